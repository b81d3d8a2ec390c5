package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lootcouncil/raidpot/pkg/database"
	"github.com/lootcouncil/raidpot/pkg/events"
)

// Ledger errors
var (
	ErrInvalidAmount       = errors.New("amount must be a positive integer")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrWalletNotFound      = errors.New("wallet not found")

	// ErrLedgerInconsistent marks an internal invariant violation (e.g. settling
	// more than is locked). The enclosing transaction must roll back entirely.
	ErrLedgerInconsistent = errors.New("ledger invariant violation")
)

// EventTypeWalletUpdated is routed to the affected user's private channel as
// "wallet.updated.<user_id>".
const EventTypeWalletUpdated = "wallet.updated"

// WalletUpdatedEvent is the payload broadcast whenever a wallet changes.
type WalletUpdatedEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	Balance      int64     `json:"balance"`
	LockedAmount int64     `json:"locked_amount"`
	Available    int64     `json:"available"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewWalletUpdatedEvent builds the outbox event for a wallet mutation. Shared
// by every code path that moves gold so clients always see authoritative state.
func NewWalletUpdatedEvent(w *Wallet) (*events.OutboxEvent, error) {
	payload, err := json.Marshal(WalletUpdatedEvent{
		UserID:       w.UserID,
		Balance:      w.Balance,
		LockedAmount: w.LockedAmount,
		Available:    w.Available(),
		UpdatedAt:    w.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal wallet event: %w", err)
	}

	return &events.OutboxEvent{
		ID:         uuid.New(),
		EventType:  EventTypeWalletUpdated,
		RoutingKey: EventTypeWalletUpdated + "." + w.UserID.String(),
		Payload:    payload,
		Status:     events.OutboxStatusPending,
		CreatedAt:  time.Now(),
	}, nil
}

// Service exposes standalone ledger operations (admin credits, wallet reads).
// Bid arbitration and settlement call the Repository directly inside their own
// transactions so wallet changes commit atomically with item and raid state.
type Service struct {
	txManager  database.TransactionManager
	walletRepo Repository
	outboxRepo events.OutboxRepository
}

// NewService creates a new ledger service
func NewService(txManager database.TransactionManager, walletRepo Repository, outboxRepo events.OutboxRepository) *Service {
	return &Service{
		txManager:  txManager,
		walletRepo: walletRepo,
		outboxRepo: outboxRepo,
	}
}

// GetWallet returns the user's wallet, creating an empty one on first read.
func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	return s.walletRepo.GetWallet(ctx, userID)
}

// Credit adds gold to a user's balance (admin adjustments, out-of-band payouts).
func (s *Service) Credit(ctx context.Context, userID uuid.UUID, amount int64) (*Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	wallet, err := s.walletRepo.Credit(ctx, tx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	event, err := NewWalletUpdatedEvent(wallet)
	if err != nil {
		return nil, err
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return wallet, nil
}
