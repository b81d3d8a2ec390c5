package auctions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ItemRepository defines the interface for item persistence
type ItemRepository interface {
	// CreateItem creates a new pending item
	CreateItem(ctx context.Context, item *Item) error

	// GetItemByID retrieves an item by its ID
	GetItemByID(ctx context.Context, itemID uuid.UUID) (*Item, error)

	// GetItemByIDForUpdate retrieves an item and locks its row. All bid
	// arbitration and expiry handling for one item runs behind this lock, so
	// no two mutations of the same item ever interleave.
	GetItemByIDForUpdate(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*Item, error)

	// UpdateItem persists the item's mutable auction state
	// (status, current_bid, winner_id, ends_at, starting_bid, min_increment, pre_auction)
	UpdateItem(ctx context.Context, tx pgx.Tx, item *Item) error

	// DeleteItemPending deletes an item only while it is still pending.
	// Returns ErrItemNotPending otherwise, ErrItemNotFound if absent.
	DeleteItemPending(ctx context.Context, itemID uuid.UUID) error

	// ActiveItemExists reports whether any item in the raid is currently active
	ActiveItemExists(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (bool, error)

	// ListItemsByRaid retrieves all items belonging to a raid
	ListItemsByRaid(ctx context.Context, raidID uuid.UUID) ([]*Item, error)

	// ListItemsByRaidForUpdate retrieves and locks all items belonging to a raid.
	// Used by whole-raid transitions (window expiry, cancel, distribute checks).
	ListItemsByRaidForUpdate(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) ([]*Item, error)

	// MarkPendingItemsPreAuction flips every pending item of the raid into an
	// active pre-auction item, returning how many were flipped
	MarkPendingItemsPreAuction(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (int64, error)

	// ListActiveAuctions returns all active timed (non pre-auction) items,
	// used to restore countdowns after a restart
	ListActiveAuctions(ctx context.Context) ([]*Item, error)
}

// BidRepository defines the interface for the append-only bid trail
type BidRepository interface {
	// SaveBid saves an accepted bid within a transaction
	SaveBid(ctx context.Context, tx pgx.Tx, bid *Bid) error

	// GetBidsByItemID retrieves all bids for an item, newest first
	GetBidsByItemID(ctx context.Context, itemID uuid.UUID) ([]*Bid, error)
}

// RaidStore is the narrow raid view the auction engine depends on. The raids
// package owns the full raid model; this keeps the dependency one-directional.
type RaidStore interface {
	// LockRaid takes the raid row lock, serializing auction starts and
	// whole-raid transitions. Returns ErrRaidClosed for completed/cancelled raids.
	LockRaid(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*RaidWindow, error)

	// GetWindow reads the raid's pre-auction deadline without locking
	GetWindow(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*RaidWindow, error)

	// ActivateRaid transitions a pending raid to active (no-op when already active)
	ActivateRaid(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) error

	// AddToPot adds a completed sale amount to the raid pot and returns the new total
	AddToPot(ctx context.Context, tx pgx.Tx, raidID uuid.UUID, amount int64) (int64, error)

	// ClearWindow clears the raid's pre-auction deadline
	ClearWindow(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) error
}

// SchedulerNotifier is how the arbitrator keeps countdown state in step with
// committed auction state.
type SchedulerNotifier interface {
	TrackAuction(itemID, raidID uuid.UUID, endsAt time.Time)
	ExtendAuction(itemID uuid.UUID, endsAt time.Time)
	ForgetAuction(itemID uuid.UUID)
	TrackWindow(raidID uuid.UUID, endsAt time.Time)
	ForgetWindow(raidID uuid.UUID)
}
