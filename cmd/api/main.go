package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/lootcouncil/raidpot/internal/adapters/api"
	"github.com/lootcouncil/raidpot/internal/adapters/database"
	adapterevents "github.com/lootcouncil/raidpot/internal/adapters/events"
	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	"github.com/lootcouncil/raidpot/internal/domain/ledger"
	"github.com/lootcouncil/raidpot/internal/domain/raids"
	"github.com/lootcouncil/raidpot/pkg/auth"
	pkgdb "github.com/lootcouncil/raidpot/pkg/database"
	pkgevents "github.com/lootcouncil/raidpot/pkg/events"
)

const (
	eventsExchange = "raid.events"
	lockTimeout    = 3 * time.Second
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load environment variables (local overrides .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	// 1. Postgres
	dbURL := os.Getenv("RAIDPOT_DB_URL")
	if dbURL == "" {
		logger.Error("RAIDPOT_DB_URL is not set")
		os.Exit(1)
	}
	dbConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		logger.Error("Unable to parse database config", "error", err)
		os.Exit(1)
	}
	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		logger.Error("Unable to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if pingErr := pool.Ping(ctx); pingErr != nil {
		logger.Error("Unable to ping database", "error", pingErr)
		os.Exit(1)
	}
	logger.Info("Postgres Connected")

	if err := database.RunMigrations(pool); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// 2. RabbitMQ
	rabbitURL := os.Getenv("RABBITMQ_URL")
	if rabbitURL == "" {
		logger.Error("RABBITMQ_URL is not set")
		os.Exit(1)
	}
	amqpConn, err := amqp.Dial(rabbitURL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()
	logger.Info("RabbitMQ Connected")

	tickPublisher, err := pkgevents.NewRabbitMQPublisher(amqpConn, eventsExchange)
	if err != nil {
		logger.Error("Failed to create publisher", "error", err)
		os.Exit(1)
	}
	defer tickPublisher.Close()

	// 3. Redis (countdown snapshots; ticks still reach the broker without it)
	var rdb *redis.Client
	redisURL := os.Getenv("REDIS_URL")
	if redisURL != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisURL})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis connection failed, countdown snapshots disabled", "error", err)
			rdb = nil
		} else {
			logger.Info("Redis Connected")
		}
	}

	// 4. JWT validation
	publicKeyPath := os.Getenv("JWT_PUBLIC_KEY_PATH")
	if publicKeyPath == "" {
		logger.Error("JWT_PUBLIC_KEY_PATH is not set")
		os.Exit(1)
	}
	publicKeyPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		logger.Error("Failed to read JWT public key", "error", err)
		os.Exit(1)
	}
	signer, err := auth.NewSignerFromPublicKey(publicKeyPEM, os.Getenv("JWT_ISSUER"))
	if err != nil {
		logger.Error("Failed to create token validator", "error", err)
		os.Exit(1)
	}

	// 5. Repositories
	txManager := pkgdb.NewPostgresTransactionManager(pool, lockTimeout)
	walletRepo := database.NewPostgresWalletRepository(pool)
	itemRepo := database.NewPostgresItemRepository(pool)
	bidRepo := database.NewPostgresBidRepository(pool)
	raidRepo := database.NewPostgresRaidRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	// 6. Auction clock and services
	liveCache := adapterevents.NewLiveCache(rdb, tickPublisher, eventsExchange, logger)
	scheduler := auctions.NewScheduler(liveCache, time.Second, logger)

	auctionService := auctions.NewService(
		txManager, itemRepo, bidRepo, walletRepo, raidRepo,
		outboxRepo, scheduler, auctions.DefaultSnipeThreshold, logger,
	)
	raidService := raids.NewService(
		txManager, raidRepo, itemRepo, walletRepo, outboxRepo, scheduler, logger,
	)
	ledgerService := ledger.NewService(txManager, walletRepo, outboxRepo)

	scheduler.Bind(auctionService)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Re-arm countdowns that were live before the process restarted.
	if err := auctionService.ResumeTimers(ctx); err != nil {
		logger.Error("Failed to resume auction timers", "error", err)
		os.Exit(1)
	}
	if err := raidService.ResumeWindows(ctx); err != nil {
		logger.Error("Failed to resume pre-auction windows", "error", err)
		os.Exit(1)
	}

	// 7. Outbox relay
	relay, err := adapterevents.NewRelay(amqpConn, txManager, outboxRepo, adapterevents.RelayConfig{
		Exchange:     eventsExchange,
		PollInterval: time.Second,
		BatchSize:    10,
	}, logger)
	if err != nil {
		logger.Error("Failed to create outbox relay", "error", err)
		os.Exit(1)
	}

	// 8. HTTP server
	handler := api.NewHandler(auctionService, raidService, ledgerService, liveCache, signer, logger)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(handler.Routes(), &http2.Server{}),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting Outbox Relay...")
		return relay.Run(gCtx)
	})
	g.Go(func() error {
		logger.Info("Starting API", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Stopped")
}
