package auctions

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus represents the lifecycle state of an auction item
type ItemStatus string

const (
	// Timed auction lifecycle
	ItemStatusPending   ItemStatus = "pending"
	ItemStatusActive    ItemStatus = "active"
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusCancelled ItemStatus = "cancelled"

	// Pre-auction items pass through these two instead of completed: ended
	// marks the window closed with a recorded winner, claimed marks the item
	// physically handed over (which is when the winner's gold is settled).
	ItemStatusEnded   ItemStatus = "ended"
	ItemStatusClaimed ItemStatus = "claimed"
)

// Item represents one lot in a raid's auction
type Item struct {
	ID           uuid.UUID  `db:"id"`
	RaidID       uuid.UUID  `db:"raid_id"`
	Name         string     `db:"name"`
	StartingBid  int64      `db:"starting_bid"`
	MinIncrement int64      `db:"min_increment"`
	Status       ItemStatus `db:"status"`
	PreAuction   bool       `db:"pre_auction"`
	CurrentBid   int64      `db:"current_bid"`
	WinnerID     *uuid.UUID `db:"winner_id"`
	EndsAt       *time.Time `db:"ends_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// MinimumBid returns the lowest acceptable next bid.
func (i *Item) MinimumBid() int64 {
	next := i.CurrentBid + i.MinIncrement
	if i.StartingBid > next {
		return i.StartingBid
	}
	return next
}

// IsWinner reports whether the given user holds the current leading bid.
func (i *Item) IsWinner(userID uuid.UUID) bool {
	return i.WinnerID != nil && *i.WinnerID == userID
}

// Bid is an immutable audit record of an accepted bid
type Bid struct {
	ID        uuid.UUID `db:"id"`
	ItemID    uuid.UUID `db:"item_id"`
	UserID    uuid.UUID `db:"user_id"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// RaidWindow is the narrow view of raid state the auction engine reads:
// whether a raid-wide pre-auction deadline is set.
type RaidWindow struct {
	RaidID           uuid.UUID
	PreAuctionEndsAt *time.Time
}
