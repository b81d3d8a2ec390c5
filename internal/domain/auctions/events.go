package auctions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lootcouncil/raidpot/pkg/events"
)

// Event types published to the raid.events exchange. Routing keys are
// "<type>.<raid_id>" so observers of one raid bind a single pattern.
const (
	EventTypeAuctionStarted   = "auction.started"
	EventTypeBidPlaced        = "auction.bid_placed"
	EventTypeAuctionExtended  = "auction.extended"
	EventTypeAuctionTick      = "auction.tick"
	EventTypeAuctionEnded     = "auction.ended"
	EventTypeAuctionAwarded   = "auction.awarded"
	EventTypePreAuctionEnded  = "preauction.ended"
	EventTypeItemClaimed      = "item.claimed"
)

// AuctionStartedEvent is broadcast when a leader opens bidding on an item.
type AuctionStartedEvent struct {
	ItemID       uuid.UUID `json:"item_id"`
	RaidID       uuid.UUID `json:"raid_id"`
	Name         string    `json:"name"`
	StartingBid  int64     `json:"starting_bid"`
	MinIncrement int64     `json:"min_increment"`
	EndsAt       time.Time `json:"ends_at"`
}

// BidPlacedEvent is broadcast to all raid observers on every accepted bid.
type BidPlacedEvent struct {
	BidID     uuid.UUID `json:"bid_id"`
	ItemID    uuid.UUID `json:"item_id"`
	RaidID    uuid.UUID `json:"raid_id"`
	UserID    uuid.UUID `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// AuctionExtendedEvent announces an anti-snipe extension.
type AuctionExtendedEvent struct {
	ItemID uuid.UUID `json:"item_id"`
	RaidID uuid.UUID `json:"raid_id"`
	EndsAt time.Time `json:"ends_at"`
}

// Tick is the once-per-second countdown snapshot. Ticks are ephemeral: they
// bypass the outbox and are published directly.
type Tick struct {
	ItemID           uuid.UUID `json:"item_id"`
	RaidID           uuid.UUID `json:"raid_id"`
	EndsAt           time.Time `json:"ends_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Window           bool      `json:"window"`
}

// AuctionEndedEvent is broadcast when the clock (or a manual award) closes an item.
type AuctionEndedEvent struct {
	ItemID   uuid.UUID  `json:"item_id"`
	RaidID   uuid.UUID  `json:"raid_id"`
	WinnerID *uuid.UUID `json:"winner_id,omitempty"`
	Amount   int64      `json:"amount"`
	PotTotal int64      `json:"pot_total"`
	Manual   bool       `json:"manual"`
}

// PreAuctionEndedEvent is broadcast when the raid-wide window expires.
type PreAuctionEndedEvent struct {
	RaidID     uuid.UUID   `json:"raid_id"`
	EndedItems []uuid.UUID `json:"ended_items"`
}

// ItemClaimedEvent is broadcast when a pre-auction win is settled on delivery.
type ItemClaimedEvent struct {
	ItemID   uuid.UUID `json:"item_id"`
	RaidID   uuid.UUID `json:"raid_id"`
	WinnerID uuid.UUID `json:"winner_id"`
	Amount   int64     `json:"amount"`
	PotTotal int64     `json:"pot_total"`
}

// NewRaidEvent builds an outbox event routed to the raid's room.
func NewRaidEvent(eventType string, raidID uuid.UUID, payload any) (*events.OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	return &events.OutboxEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		RoutingKey: eventType + "." + raidID.String(),
		Payload:    body,
		Status:     events.OutboxStatusPending,
		CreatedAt:  time.Now(),
	}, nil
}
