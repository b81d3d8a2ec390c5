package auctions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lootcouncil/raidpot/internal/domain/ledger"
	"github.com/lootcouncil/raidpot/pkg/database"
	"github.com/lootcouncil/raidpot/pkg/events"
)

const (
	// DefaultSnipeThreshold is how close to expiry a bid must land to trigger
	// an anti-snipe extension; the new deadline is now + threshold.
	DefaultSnipeThreshold = 10 * time.Second
)

// AddItemCommand creates a pending item in a raid
type AddItemCommand struct {
	RaidID       uuid.UUID
	Name         string
	StartingBid  int64
	MinIncrement int64
}

// StartAuctionCommand opens bidding on a pending item
type StartAuctionCommand struct {
	ItemID   uuid.UUID
	Duration time.Duration
	// Optional overrides applied at start time
	MinBid    *int64
	Increment *int64
}

// PlaceBidCommand represents a bid attempt
type PlaceBidCommand struct {
	ItemID uuid.UUID
	UserID uuid.UUID
	Amount int64
}

/// ManualAwardCommand short-circuits bidding: the leader assigns the item and
// price directly to a participant
type ManualAwardCommand struct {
	ItemID   uuid.UUID
	WinnerID uuid.UUID
	Price    int64
}

// PlaceBidResult carries the authoritative post-bid state back to the caller
type PlaceBidResult struct {
	Bid      *Bid
	Item     *Item
	Extended bool
}

// Service is the bidding and item state machine core. Every mutation runs in
// one transaction behind the item row lock, so arbitration, expiry and awards
// for the same item are fully serialized while different items proceed in
// parallel.
type Service struct {
	txManager      database.TransactionManager
	itemRepo       ItemRepository
	bidRepo        BidRepository
	walletRepo     ledger.Repository
	raidStore      RaidStore
	outboxRepo     events.OutboxRepository
	scheduler      SchedulerNotifier
	snipeThreshold time.Duration
	logger         *slog.Logger
}

// NewService creates the auction service. A snipeThreshold of 0 selects
// DefaultSnipeThreshold.
func NewService(
	txManager database.TransactionManager,
	itemRepo ItemRepository,
	bidRepo BidRepository,
	walletRepo ledger.Repository,
	raidStore RaidStore,
	outboxRepo events.OutboxRepository,
	scheduler SchedulerNotifier,
	snipeThreshold time.Duration,
	logger *slog.Logger,
) *Service {
	if snipeThreshold <= 0 {
		snipeThreshold = DefaultSnipeThreshold
	}
	return &Service{
		txManager:      txManager,
		itemRepo:       itemRepo,
		bidRepo:        bidRepo,
		walletRepo:     walletRepo,
		raidStore:      raidStore,
		outboxRepo:     outboxRepo,
		scheduler:      scheduler,
		snipeThreshold: snipeThreshold,
		logger:         logger,
	}
}

// AddItem creates a pending item in a raid.
func (s *Service) AddItem(ctx context.Context, cmd AddItemCommand) (*Item, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("item name must not be empty")
	}
	if cmd.StartingBid < 0 {
		return nil, ErrInvalidStartingBid
	}
	if cmd.MinIncrement <= 0 {
		return nil, ErrInvalidIncrement
	}

	item := &Item{
		ID:           uuid.New(),
		RaidID:       cmd.RaidID,
		Name:         cmd.Name,
		StartingBid:  cmd.StartingBid,
		MinIncrement: cmd.MinIncrement,
		Status:       ItemStatusPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.itemRepo.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	return item, nil
}

// DeleteItem removes an item that has never entered bidding.
func (s *Service) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return s.itemRepo.DeleteItemPending(ctx, itemID)
}

// GetItem retrieves an item by ID.
func (s *Service) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	return s.itemRepo.GetItemByID(ctx, itemID)
}

// ListRaidItems retrieves all items of a raid.
func (s *Service) ListRaidItems(ctx context.Context, raidID uuid.UUID) ([]*Item, error) {
	return s.itemRepo.ListItemsByRaid(ctx, raidID)
}

// ListBids returns the append-only bid trail for an item, newest first.
func (s *Service) ListBids(ctx context.Context, itemID uuid.UUID) ([]*Bid, error) {
	return s.bidRepo.GetBidsByItemID(ctx, itemID)
}

// StartAuction transitions a pending item to active and arms its countdown.
// Only one auction may be live per raid at a time.
func (s *Service) StartAuction(ctx context.Context, cmd StartAuctionCommand) (*Item, error) {
	if cmd.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if cmd.MinBid != nil && *cmd.MinBid < 0 {
		return nil, ErrInvalidStartingBid
	}
	if cmd.Increment != nil && *cmd.Increment <= 0 {
		return nil, ErrInvalidIncrement
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := s.itemRepo.GetItemByIDForUpdate(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, err
	}

	if item.Status != ItemStatusPending {
		return nil, ErrItemNotPending
	}

	// Raid lock serializes concurrent starts within one raid
	if _, err := s.raidStore.LockRaid(ctx, tx, item.RaidID); err != nil {
		return nil, err
	}

	active, err := s.itemRepo.ActiveItemExists(ctx, tx, item.RaidID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for active auctions: %w", err)
	}
	if active {
		return nil, ErrAuctionAlreadyActive
	}

	if err := s.raidStore.ActivateRaid(ctx, tx, item.RaidID); err != nil {
		return nil, fmt.Errorf("failed to activate raid: %w", err)
	}

	if cmd.MinBid != nil {
		item.StartingBid = *cmd.MinBid
	}
	if cmd.Increment != nil {
		item.MinIncrement = *cmd.Increment
	}

	endsAt := time.Now().Add(cmd.Duration)
	item.Status = ItemStatusActive
	item.PreAuction = false
	item.CurrentBid = 0
	item.WinnerID = nil
	item.EndsAt = &endsAt
	item.UpdatedAt = time.Now()

	if err := s.itemRepo.UpdateItem(ctx, tx, item); err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	event, err := NewRaidEvent(EventTypeAuctionStarted, item.RaidID, AuctionStartedEvent{
		ItemID:       item.ID,
		RaidID:       item.RaidID,
		Name:         item.Name,
		StartingBid:  item.StartingBid,
		MinIncrement: item.MinIncrement,
		EndsAt:       endsAt,
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

	s.scheduler.TrackAuction(item.ID, item.RaidID, endsAt)

	return item, nil
}

// PlaceBid arbitrates one bid attempt. Validation order and reason codes:
// not active, ended, invalid amount, already winning, too low, insufficient
// balance. On success the previous leader's reservation is released, the new
// bidder's reservation is held, and the accepted state is broadcast.
func (s *Service) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*PlaceBidResult, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Lock the item row: bids on the same item are evaluated one at a time
	item, err := s.itemRepo.GetItemByIDForUpdate(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, err
	}

	if item.Status != ItemStatusActive {
		return nil, ErrAuctionNotActive
	}

	now := time.Now()
	deadline, err := s.bidDeadline(ctx, tx, item)
	if err != nil {
		return nil, err
	}
	if deadline != nil && now.After(*deadline) {
		return nil, ErrAuctionEnded
	}

	if cmd.Amount <= 0 {
		return nil, ErrInvalidBidAmount
	}

	if item.IsWinner(cmd.UserID) {
		return nil, ErrAlreadyWinning
	}

	if minimum := item.MinimumBid(); cmd.Amount < minimum {
		return nil, &BidTooLowError{Minimum: minimum}
	}

	// Reserve against the bidder's live lock state. The row-level conditional
	// update sees this bidder's other reservations, stale reads cannot slip in.
	bidderWallet, err := s.walletRepo.Reserve(ctx, tx, cmd.UserID, cmd.Amount)
	if err != nil {
		return nil, err
	}

	var prevWallet *ledger.Wallet
	if item.WinnerID != nil {
		prevWallet, err = s.walletRepo.Release(ctx, tx, *item.WinnerID, item.CurrentBid)
		if err != nil {
			return nil, fmt.Errorf("failed to release previous leader: %w", err)
		}
	}

	bid := &Bid{
		ID:        uuid.New(),
		ItemID:    item.ID,
		UserID:    cmd.UserID,
		Amount:    cmd.Amount,
		CreatedAt: now,
	}
	if err := s.bidRepo.SaveBid(ctx, tx, bid); err != nil {
		return nil, fmt.Errorf("failed to save bid: %w", err)
	}

	winnerID := cmd.UserID
	item.CurrentBid = cmd.Amount
	item.WinnerID = &winnerID
	item.UpdatedAt = now

	// Anti-snipe: a bid landing within the threshold pushes the deadline out
	// to now + threshold. Only per-item timers extend; the raid-wide
	// pre-auction window keeps its shared deadline.
	extended := false
	if !item.PreAuction && item.EndsAt != nil && item.EndsAt.Sub(now) <= s.snipeThreshold {
		newEnd := now.Add(s.snipeThreshold)
		item.EndsAt = &newEnd
		extended = true
	}

	if err := s.itemRepo.UpdateItem(ctx, tx, item); err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	outboxEvents := make([]*events.OutboxEvent, 0, 4)

	bidEvent, err := NewRaidEvent(EventTypeBidPlaced, item.RaidID, BidPlacedEvent{
		BidID:     bid.ID,
		ItemID:    item.ID,
		RaidID:    item.RaidID,
		UserID:    bid.UserID,
		Amount:    bid.Amount,
		CreatedAt: bid.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	outboxEvents = append(outboxEvents, bidEvent)

	if extended {
		extEvent, err := NewRaidEvent(EventTypeAuctionExtended, item.RaidID, AuctionExtendedEvent{
			ItemID: item.ID,
			RaidID: item.RaidID,
			EndsAt: *item.EndsAt,
		})
		if err != nil {
			return nil, err
		}
		outboxEvents = append(outboxEvents, extEvent)
	}

	walletEvent, err := ledger.NewWalletUpdatedEvent(bidderWallet)
	if err != nil {
		return nil, err
	}
	outboxEvents = append(outboxEvents, walletEvent)

	if prevWallet != nil {
		prevEvent, err := ledger.NewWalletUpdatedEvent(prevWallet)
		if err != nil {
			return nil, err
		}
		outboxEvents = append(outboxEvents, prevEvent)
	}

	for _, event := range outboxEvents {
		if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("failed to save outbox event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if extended {
		s.scheduler.ExtendAuction(item.ID, *item.EndsAt)
	}

	return &PlaceBidResult{Bid: bid, Item: item, Extended: extended}, nil
}

// bidDeadline resolves the applicable deadline: the item's own timer, or the
// raid-wide window for pre-auction items.
func (s *Service) bidDeadline(ctx context.Context, tx pgx.Tx, item *Item) (*time.Time, error) {
	if !item.PreAuction {
		return item.EndsAt, nil
	}

	window, err := s.raidStore.GetWindow(ctx, tx, item.RaidID)
	if err != nil {
		return nil, fmt.Errorf("failed to read pre-auction window: %w", err)
	}
	return window.PreAuctionEndsAt, nil
}

// ManualAward assigns the item and price directly to a participant, settling
// immediately. Allowed while the item is pending or active; never re-opens.
func (s *Service) ManualAward(ctx context.Context, cmd ManualAwardCommand) (*Item, error) {
	if cmd.Price <= 0 {
		return nil, ErrInvalidBidAmount
	}

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := s.itemRepo.GetItemByIDForUpdate(ctx, tx, cmd.ItemID)
	if err != nil {
		return nil, err
	}

	if item.Status != ItemStatusPending && item.Status != ItemStatusActive {
		return nil, ErrManualAwardNotAllowed
	}

	outboxEvents := make([]*events.OutboxEvent, 0, 3)

	// Any outstanding leading reservation is released first, including the
	// winner's own, so the award price replaces the bid amount cleanly.
	if item.WinnerID != nil && item.CurrentBid > 0 {
		prevWallet, err := s.walletRepo.Release(ctx, tx, *item.WinnerID, item.CurrentBid)
		if err != nil {
			return nil, fmt.Errorf("failed to release previous leader: %w", err)
		}
		prevEvent, err := ledger.NewWalletUpdatedEvent(prevWallet)
		if err != nil {
			return nil, err
		}
		outboxEvents = append(outboxEvents, prevEvent)
	}

	if _, err := s.walletRepo.Reserve(ctx, tx, cmd.WinnerID, cmd.Price); err != nil {
		return nil, err
	}
	winnerWallet, err := s.walletRepo.Settle(ctx, tx, cmd.WinnerID, cmd.Price)
	if err != nil {
		return nil, err
	}
	winnerEvent, err := ledger.NewWalletUpdatedEvent(winnerWallet)
	if err != nil {
		return nil, err
	}
	outboxEvents = append(outboxEvents, winnerEvent)

	potTotal, err := s.raidStore.AddToPot(ctx, tx, item.RaidID, cmd.Price)
	if err != nil {
		return nil, fmt.Errorf("failed to add to pot: %w", err)
	}

	winnerID := cmd.WinnerID
	item.Status = ItemStatusCompleted
	item.CurrentBid = cmd.Price
	item.WinnerID = &winnerID
	item.EndsAt = nil
	item.UpdatedAt = time.Now()

	if err := s.itemRepo.UpdateItem(ctx, tx, item); err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	endedEvent, err := NewRaidEvent(EventTypeAuctionAwarded, item.RaidID, AuctionEndedEvent{
		ItemID:   item.ID,
		RaidID:   item.RaidID,
		WinnerID: item.WinnerID,
		Amount:   item.CurrentBid,
		PotTotal: potTotal,
		Manual:   true,
	})
	if err != nil {
		return nil, err
	}
	outboxEvents = append(outboxEvents, endedEvent)

	for _, event := range outboxEvents {
		if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("failed to save outbox event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.scheduler.ForgetAuction(item.ID)

	return item, nil
}

// FinalizeExpired is the clock's terminal trigger for one item. It re-reads
// the item behind the row lock: a bid accepted just before expiry may have
// extended the deadline, in which case the new deadline is returned and the
// caller reschedules. Returns (nil, nil) when the item is already closed.
func (s *Service) FinalizeExpired(ctx context.Context, itemID uuid.UUID) (*time.Time, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := s.itemRepo.GetItemByIDForUpdate(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}

	if item.Status != ItemStatusActive || item.PreAuction {
		return nil, nil
	}
	if item.EndsAt == nil {
		return nil, fmt.Errorf("active item %s has no deadline", item.ID)
	}
	if time.Now().Before(*item.EndsAt) {
		// Extended after the timer fired; run again at the new deadline
		return item.EndsAt, nil
	}

	outboxEvents := make([]*events.OutboxEvent, 0, 2)

	var potTotal int64
	if item.WinnerID != nil {
		// Winning reservation becomes a final deduction
		winnerWallet, err := s.walletRepo.Settle(ctx, tx, *item.WinnerID, item.CurrentBid)
		if err != nil {
			return nil, err
		}
		potTotal, err = s.raidStore.AddToPot(ctx, tx, item.RaidID, item.CurrentBid)
		if err != nil {
			return nil, fmt.Errorf("failed to add to pot: %w", err)
		}
		walletEvent, err := ledger.NewWalletUpdatedEvent(winnerWallet)
		if err != nil {
			return nil, err
		}
		outboxEvents = append(outboxEvents, walletEvent)
	}

	item.Status = ItemStatusCompleted
	item.EndsAt = nil
	item.UpdatedAt = time.Now()

	if err := s.itemRepo.UpdateItem(ctx, tx, item); err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	endedEvent, err := NewRaidEvent(EventTypeAuctionEnded, item.RaidID, AuctionEndedEvent{
		ItemID:   item.ID,
		RaidID:   item.RaidID,
		WinnerID: item.WinnerID,
		Amount:   item.CurrentBid,
		PotTotal: potTotal,
	})
	if err != nil {
		return nil, err
	}
	outboxEvents = append(outboxEvents, endedEvent)

	for _, event := range outboxEvents {
		if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("failed to save outbox event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("auction finalized",
		"item_id", item.ID,
		"raid_id", item.RaidID,
		"winner", item.WinnerID,
		"amount", item.CurrentBid,
	)

	return nil, nil
}

// FinalizeWindow closes a raid's pre-auction window. Items with a winner move
// to ended and keep their reservation until claimed; items without bids fall
// back to pending for a later live auction.
func (s *Service) FinalizeWindow(ctx context.Context, raidID uuid.UUID) error {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	window, err := s.raidStore.LockRaid(ctx, tx, raidID)
	if err != nil {
		return err
	}
	if window.PreAuctionEndsAt == nil {
		return nil // window already closed
	}
	if time.Now().Before(*window.PreAuctionEndsAt) {
		return nil
	}

	items, err := s.itemRepo.ListItemsByRaidForUpdate(ctx, tx, raidID)
	if err != nil {
		return fmt.Errorf("failed to list raid items: %w", err)
	}

	endedItems := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if item.Status != ItemStatusActive || !item.PreAuction {
			continue
		}
		if item.WinnerID != nil {
			item.Status = ItemStatusEnded
			endedItems = append(endedItems, item.ID)
		} else {
			item.Status = ItemStatusPending
			item.PreAuction = false
		}
		item.UpdatedAt = time.Now()
		if err := s.itemRepo.UpdateItem(ctx, tx, item); err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
	}

	if err := s.raidStore.ClearWindow(ctx, tx, raidID); err != nil {
		return fmt.Errorf("failed to clear pre-auction window: %w", err)
	}

	event, err := NewRaidEvent(EventTypePreAuctionEnded, raidID, PreAuctionEndedEvent{
		RaidID:     raidID,
		EndedItems: endedItems,
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

	s.logger.Info("pre-auction window closed", "raid_id", raidID, "ended_items", len(endedItems))

	return nil
}

// Claim settles a pre-auction win once the item has physically dropped and
// been handed to the recorded winner. Gold leaves the winner's balance only now.
func (s *Service) Claim(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	item, err := s.itemRepo.GetItemByIDForUpdate(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}

	if item.Status != ItemStatusEnded {
		return nil, ErrItemNotClaimable
	}
	if item.WinnerID == nil {
		return nil, ErrItemHasNoWinner
	}

	winnerWallet, err := s.walletRepo.Settle(ctx, tx, *item.WinnerID, item.CurrentBid)
	if err != nil {
		return nil, err
	}

	potTotal, err := s.raidStore.AddToPot(ctx, tx, item.RaidID, item.CurrentBid)
	if err != nil {
		return nil, fmt.Errorf("failed to add to pot: %w", err)
	}

	item.Status = ItemStatusClaimed
	item.UpdatedAt = time.Now()
	if err := s.itemRepo.UpdateItem(ctx, tx, item); err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	claimEvent, err := NewRaidEvent(EventTypeItemClaimed, item.RaidID, ItemClaimedEvent{
		ItemID:   item.ID,
		RaidID:   item.RaidID,
		WinnerID: *item.WinnerID,
		Amount:   item.CurrentBid,
		PotTotal: potTotal,
	})
	if err != nil {
		return nil, err
	}
	walletEvent, err := ledger.NewWalletUpdatedEvent(winnerWallet)
	if err != nil {
		return nil, err
	}
	for _, event := range []*events.OutboxEvent{claimEvent, walletEvent} {
		if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("failed to save outbox event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return item, nil
}

// ResumeTimers re-arms countdowns for auctions that were live when the
// process last stopped.
func (s *Service) ResumeTimers(ctx context.Context) error {
	items, err := s.itemRepo.ListActiveAuctions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active auctions: %w", err)
	}

	for _, item := range items {
		if item.EndsAt == nil {
			continue
		}
		s.scheduler.TrackAuction(item.ID, item.RaidID, *item.EndsAt)
	}

	if len(items) > 0 {
		s.logger.Info("resumed auction timers", "count", len(items))
	}

	return nil
}
