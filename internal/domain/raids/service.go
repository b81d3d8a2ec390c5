package raids

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	"github.com/lootcouncil/raidpot/internal/domain/ledger"
	"github.com/lootcouncil/raidpot/pkg/database"
	"github.com/lootcouncil/raidpot/pkg/events"
)

// Raid errors
var (
	ErrRaidNotFound      = errors.New("raid not found")
	ErrRaidClosed        = errors.New("raid is completed or cancelled")
	ErrHasActiveAuctions = errors.New("raid still has running or unclaimed auctions")
	ErrEmptyPot          = errors.New("raid pot is empty")
	ErrWindowAlreadyOpen = errors.New("pre-auction window is already open")
	ErrInvalidWindow     = errors.New("pre-auction window duration must be positive")
	ErrNotLeader         = errors.New("only the raid leader may perform this action")
)

// Event types owned by the raid lifecycle
const (
	EventTypePreAuctionOpened = "preauction.opened"
	EventTypePotDistributed   = "pot.distributed"
	EventTypeRaidCancelled    = "raid.cancelled"
)

// PreAuctionOpenedEvent is broadcast when the roster locks and the raid-wide
// bidding window opens.
type PreAuctionOpenedEvent struct {
	RaidID    uuid.UUID `json:"raid_id"`
	EndsAt    time.Time `json:"ends_at"`
	ItemCount int64     `json:"item_count"`
}

// PotDistributedEvent carries the final per-user payouts.
type PotDistributedEvent struct {
	RaidID       uuid.UUID     `json:"raid_id"`
	Distribution *Distribution `json:"distribution"`
}

// RaidCancelledEvent is broadcast when a raid is cancelled and all
// reservations released.
type RaidCancelledEvent struct {
	RaidID uuid.UUID `json:"raid_id"`
	Reason string    `json:"reason,omitempty"`
}

// CreateRaidCommand creates a raid with its leader as first participant
type CreateRaidCommand struct {
	Name             string
	LeaderID         uuid.UUID
	LeaderCutPercent int64
}

// Service owns raid lifecycle and pot settlement.
type Service struct {
	txManager  database.TransactionManager
	raidRepo   Repository
	itemRepo   auctions.ItemRepository
	walletRepo ledger.Repository
	outboxRepo events.OutboxRepository
	scheduler  auctions.SchedulerNotifier
	logger     *slog.Logger
}

// NewService creates the raid service
func NewService(
	txManager database.TransactionManager,
	raidRepo Repository,
	itemRepo auctions.ItemRepository,
	walletRepo ledger.Repository,
	outboxRepo events.OutboxRepository,
	scheduler auctions.SchedulerNotifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		txManager:  txManager,
		raidRepo:   raidRepo,
		itemRepo:   itemRepo,
		walletRepo: walletRepo,
		outboxRepo: outboxRepo,
		scheduler:  scheduler,
		logger:     logger,
	}
}

// CreateRaid creates a pending raid with the leader as its first participant.
func (s *Service) CreateRaid(ctx context.Context, cmd CreateRaidCommand) (*Raid, error) {
	if cmd.LeaderCutPercent < 0 || cmd.LeaderCutPercent > 100 {
		return nil, ErrInvalidLeaderCut
	}
	if cmd.Name == "" {
		return nil, fmt.Errorf("raid name must not be empty")
	}

	raid := &Raid{
		ID:               uuid.New(),
		Name:             cmd.Name,
		Status:           RaidStatusPending,
		LeaderID:         cmd.LeaderID,
		LeaderCutPercent: cmd.LeaderCutPercent,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := s.raidRepo.CreateRaid(ctx, raid); err != nil {
		return nil, fmt.Errorf("failed to create raid: %w", err)
	}

	return raid, nil
}

// GetRaid retrieves a raid by ID.
func (s *Service) GetRaid(ctx context.Context, raidID uuid.UUID) (*Raid, error) {
	return s.raidRepo.GetRaidByID(ctx, raidID)
}

// ListParticipants returns the raid roster.
func (s *Service) ListParticipants(ctx context.Context, raidID uuid.UUID) ([]Participant, error) {
	return s.raidRepo.ListParticipants(ctx, raidID)
}

// IsLeader reports whether the user leads the raid. Used by the API layer to
// gate leader-only operations.
func (s *Service) IsLeader(ctx context.Context, raidID, userID uuid.UUID) (bool, error) {
	raid, err := s.raidRepo.GetRaidByID(ctx, raidID)
	if err != nil {
		return false, err
	}
	return raid.LeaderID == userID, nil
}

// ImportParticipants adds members to the roster; existing entries are kept.
func (s *Service) ImportParticipants(ctx context.Context, raidID uuid.UUID, userIDs []uuid.UUID) error {
	raid, err := s.raidRepo.GetRaidByID(ctx, raidID)
	if err != nil {
		return err
	}
	if raid.Status == RaidStatusCompleted || raid.Status == RaidStatusCancelled {
		return ErrRaidClosed
	}

	participants := make([]Participant, 0, len(userIDs))
	now := time.Now()
	for _, id := range userIDs {
		role := RoleMember
		if id == raid.LeaderID {
			role = RoleLeader
		}
		participants = append(participants, Participant{
			RaidID:   raidID,
			UserID:   id,
			Role:     role,
			JoinedAt: now,
		})
	}

	if err := s.raidRepo.AddParticipants(ctx, raidID, participants); err != nil {
		return fmt.Errorf("failed to add participants: %w", err)
	}

	return nil
}

// LockRoster opens the raid-wide pre-auction window: every pending item
// becomes biddable until the shared deadline.
func (s *Service) LockRoster(ctx context.Context, raidID uuid.UUID, duration time.Duration) (*Raid, error) {
	if duration <= 0 {
		return nil, ErrInvalidWindow
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	raid, err := s.raidRepo.GetRaidByIDForUpdate(ctx, tx, raidID)
	if err != nil {
		return nil, err
	}
	if raid.Status == RaidStatusCompleted || raid.Status == RaidStatusCancelled {
		return nil, ErrRaidClosed
	}
	if raid.PreAuctionEndsAt != nil {
		return nil, ErrWindowAlreadyOpen
	}

	flipped, err := s.itemRepo.MarkPendingItemsPreAuction(ctx, tx, raidID)
	if err != nil {
		return nil, fmt.Errorf("failed to open items for pre-auction: %w", err)
	}

	endsAt := time.Now().Add(duration)
	raid.Status = RaidStatusActive
	raid.PreAuctionEndsAt = &endsAt
	raid.UpdatedAt = time.Now()

	if err := s.raidRepo.UpdateRaid(ctx, tx, raid); err != nil {
		return nil, fmt.Errorf("failed to update raid: %w", err)
	}

	event, err := auctions.NewRaidEvent(EventTypePreAuctionOpened, raidID, PreAuctionOpenedEvent{
		RaidID:    raidID,
		EndsAt:    endsAt,
		ItemCount: flipped,
	})
	if err != nil {
		return nil, err
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.scheduler.TrackWindow(raidID, endsAt)

	return raid, nil
}

// PreviewDistribution computes the payout plan without mutating anything.
func (s *Service) PreviewDistribution(ctx context.Context, raidID uuid.UUID) (*Distribution, error) {
	raid, err := s.raidRepo.GetRaidByID(ctx, raidID)
	if err != nil {
		return nil, err
	}

	participants, err := s.raidRepo.ListParticipants(ctx, raidID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	return ComputeDistribution(raid.PotTotal, raid.LeaderCutPercent, participants)
}

// Distribute pays out the pot: every participant is credited their computed
// share in one transaction and the raid completes. The credited total equals
// the pot exactly.
func (s *Service) Distribute(ctx context.Context, raidID uuid.UUID) (*Distribution, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	raid, err := s.raidRepo.GetRaidByIDForUpdate(ctx, tx, raidID)
	if err != nil {
		return nil, err
	}
	if raid.Status == RaidStatusCompleted || raid.Status == RaidStatusCancelled {
		return nil, ErrRaidClosed
	}

	items, err := s.itemRepo.ListItemsByRaidForUpdate(ctx, tx, raidID)
	if err != nil {
		return nil, fmt.Errorf("failed to list raid items: %w", err)
	}
	for _, item := range items {
		// Running auctions and unclaimed pre-auction wins still hold
		// reservations whose gold has not reached the pot
		if item.Status == auctions.ItemStatusActive || item.Status == auctions.ItemStatusEnded {
			return nil, ErrHasActiveAuctions
		}
	}

	if raid.PotTotal == 0 {
		return nil, ErrEmptyPot
	}

	participants, err := s.raidRepo.ListParticipants(ctx, raidID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	dist, err := ComputeDistribution(raid.PotTotal, raid.LeaderCutPercent, participants)
	if err != nil {
		return nil, err
	}

	for _, share := range dist.Shares {
		if share.Amount == 0 {
			continue
		}
		wallet, err := s.walletRepo.Credit(ctx, tx, share.UserID, share.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to credit participant %s: %w", share.UserID, err)
		}
		walletEvent, err := ledger.NewWalletUpdatedEvent(wallet)
		if err != nil {
			return nil, err
		}
		if err := s.outboxRepo.SaveEvent(ctx, tx, walletEvent); err != nil {
			return nil, fmt.Errorf("failed to save outbox event: %w", err)
		}
	}

	raid.Status = RaidStatusCompleted
	raid.UpdatedAt = time.Now()
	if err := s.raidRepo.UpdateRaid(ctx, tx, raid); err != nil {
		return nil, fmt.Errorf("failed to update raid: %w", err)
	}

	event, err := auctions.NewRaidEvent(EventTypePotDistributed, raidID, PotDistributedEvent{
		RaidID:       raidID,
		Distribution: dist,
	})
	if err != nil {
		return nil, err
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("pot distributed",
		"raid_id", raidID,
		"pot_total", dist.PotTotal,
		"participants", len(dist.Shares),
	)

	return dist, nil
}

// Cancel is the unconditional raid-level override: every outstanding
// reservation is released (gold was never removed from balances), the pot is
// reset and all unsold items are cancelled.
func (s *Service) Cancel(ctx context.Context, raidID uuid.UUID, reason string) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	raid, err := s.raidRepo.GetRaidByIDForUpdate(ctx, tx, raidID)
	if err != nil {
		return err
	}
	if raid.Status == RaidStatusCompleted || raid.Status == RaidStatusCancelled {
		return ErrRaidClosed
	}

	items, err := s.itemRepo.ListItemsByRaidForUpdate(ctx, tx, raidID)
	if err != nil {
		return fmt.Errorf("failed to list raid items: %w", err)
	}

	cancelledTimers := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		holdsReservation := (item.Status == auctions.ItemStatusActive || item.Status == auctions.ItemStatusEnded) &&
			item.WinnerID != nil && item.CurrentBid > 0
		if holdsReservation {
			wallet, err := s.walletRepo.Release(ctx, tx, *item.WinnerID, item.CurrentBid)
			if err != nil {
				return fmt.Errorf("failed to release reservation for %s: %w", *item.WinnerID, err)
			}
			walletEvent, err := ledger.NewWalletUpdatedEvent(wallet)
			if err != nil {
				return err
			}
			if err := s.outboxRepo.SaveEvent(ctx, tx, walletEvent); err != nil {
				return fmt.Errorf("failed to save outbox event: %w", err)
			}
		}

		switch item.Status {
		case auctions.ItemStatusPending, auctions.ItemStatusActive, auctions.ItemStatusEnded:
			if item.Status == auctions.ItemStatusActive && !item.PreAuction {
				cancelledTimers = append(cancelledTimers, item.ID)
			}
			item.Status = auctions.ItemStatusCancelled
			item.EndsAt = nil
			item.UpdatedAt = time.Now()
			if err := s.itemRepo.UpdateItem(ctx, tx, item); err != nil {
				return fmt.Errorf("failed to cancel item: %w", err)
			}
		}
	}

	raid.Status = RaidStatusCancelled
	raid.PotTotal = 0
	raid.PreAuctionEndsAt = nil
	raid.UpdatedAt = time.Now()
	if err := s.raidRepo.UpdateRaid(ctx, tx, raid); err != nil {
		return fmt.Errorf("failed to update raid: %w", err)
	}

	event, err := auctions.NewRaidEvent(EventTypeRaidCancelled, raidID, RaidCancelledEvent{
		RaidID: raidID,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, itemID := range cancelledTimers {
		s.scheduler.ForgetAuction(itemID)
	}
	s.scheduler.ForgetWindow(raidID)

	s.logger.Info("raid cancelled", "raid_id", raidID, "reason", reason)

	return nil
}

// ResumeWindows re-arms pre-auction countdowns after a restart.
func (s *Service) ResumeWindows(ctx context.Context) error {
	raidsWithWindows, err := s.raidRepo.ListOpenWindows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open pre-auction windows: %w", err)
	}

	for _, raid := range raidsWithWindows {
		if raid.PreAuctionEndsAt == nil {
			continue
		}
		s.scheduler.TrackWindow(raid.ID, *raid.PreAuctionEndsAt)
	}

	if len(raidsWithWindows) > 0 {
		s.logger.Info("resumed pre-auction windows", "count", len(raidsWithWindows))
	}

	return nil
}
