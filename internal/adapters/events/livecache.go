package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	pkgevents "github.com/lootcouncil/raidpot/pkg/events"
)

// Countdown snapshots expire shortly after the next tick would overwrite
// them, so a closed auction leaves no stale key behind.
const snapshotTTL = 5 * time.Second

// LiveCache fans out the ephemeral once-per-second countdown ticks: each tick
// is published straight to the broker (no outbox, ticks are not worth
// durability) and written to Redis so read traffic polls a snapshot instead of
// holding a subscription. Delivery is best effort and never blocks the clock.
type LiveCache struct {
	rdb       *redis.Client
	publisher pkgevents.EventPublisher
	exchange  string
	logger    *slog.Logger
}

// NewLiveCache creates the tick fan-out
func NewLiveCache(rdb *redis.Client, publisher pkgevents.EventPublisher, exchange string, logger *slog.Logger) *LiveCache {
	return &LiveCache{
		rdb:       rdb,
		publisher: publisher,
		exchange:  exchange,
		logger:    logger,
	}
}

// PublishTick implements auctions.TickPublisher
func (c *LiveCache) PublishTick(ctx context.Context, tick auctions.Tick) {
	body, err := json.Marshal(tick)
	if err != nil {
		c.logger.Error("failed to marshal tick", "error", err)
		return
	}

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, snapshotKey(tick), body, snapshotTTL).Err(); err != nil {
			c.logger.Warn("failed to cache countdown snapshot", "error", err)
		}
	}

	if c.publisher != nil {
		routingKey := auctions.EventTypeAuctionTick + "." + tick.RaidID.String()
		if err := c.publisher.Publish(ctx, c.exchange, routingKey, body); err != nil {
			c.logger.Warn("failed to publish tick", "error", err)
		}
	}
}

// GetSnapshot returns the last cached countdown for an item or window key.
// Returns nil when no countdown is live.
func (c *LiveCache) GetSnapshot(ctx context.Context, raidID, key string) (*auctions.Tick, error) {
	if c.rdb == nil {
		return nil, nil
	}

	body, err := c.rdb.Get(ctx, fmt.Sprintf("raid:%s:countdown:%s", raidID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read countdown snapshot: %w", err)
	}

	var tick auctions.Tick
	if err := json.Unmarshal(body, &tick); err != nil {
		return nil, fmt.Errorf("failed to decode countdown snapshot: %w", err)
	}
	return &tick, nil
}

func snapshotKey(tick auctions.Tick) string {
	return fmt.Sprintf("raid:%s:countdown:%s", tick.RaidID, tick.ItemID)
}
