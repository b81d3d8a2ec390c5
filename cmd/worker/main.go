package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lootcouncil/raidpot/internal/adapters/database"
	adapterevents "github.com/lootcouncil/raidpot/internal/adapters/events"
	pkgdb "github.com/lootcouncil/raidpot/pkg/database"
)

// Standalone outbox relay. Run this instead of the in-process relay when the
// API is scaled horizontally, so each pending event is published once.
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
		logger.Info("Shutting down worker...")
		cancel()
	}()

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

	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	relay, err := adapterevents.NewRelay(amqpConn, txManager, outboxRepo, adapterevents.RelayConfig{
		Exchange:     "raid.events",
		PollInterval: time.Second,
		BatchSize:    50,
	}, logger)
	if err != nil {
		logger.Error("Failed to create outbox relay", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting Outbox Relay...")
	if runErr := relay.Run(ctx); runErr != nil {
		logger.Error("Relay failed", "error", runErr)
		if ctx.Err() == nil {
			os.Exit(1)
		}
	}

	logger.Info("Worker stopped")
}
