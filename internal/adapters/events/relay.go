package events

import (
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lootcouncil/raidpot/pkg/database"
	pkgevents "github.com/lootcouncil/raidpot/pkg/events"
)

// RelayConfig collects the knobs of the outbox relay loop.
type RelayConfig struct {
	Exchange     string
	PollInterval time.Duration
	BatchSize    int
}

// NewRelay wires a RabbitMQ publisher into the generic outbox relay. The
// returned relay drains pending outbox rows into the given topic exchange.
func NewRelay(
	conn *amqp.Connection,
	txManager database.TransactionManager,
	outboxRepo pkgevents.OutboxRepository,
	cfg RelayConfig,
	logger *slog.Logger,
) (*pkgevents.OutboxRelay, error) {
	publisher, err := pkgevents.NewRabbitMQPublisher(conn, cfg.Exchange)
	if err != nil {
		return nil, err
	}

	return pkgevents.NewOutboxRelay(
		outboxRepo,
		publisher,
		txManager,
		cfg.BatchSize,
		cfg.PollInterval,
		cfg.Exchange,
		logger,
	), nil
}
