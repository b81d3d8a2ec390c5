package auctions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Finalizer is the terminal-trigger side of the auction service, called by the
// scheduler when a deadline passes. FinalizeExpired may return a later
// deadline (the auction was extended after the timer fired), in which case the
// countdown is re-armed.
type Finalizer interface {
	FinalizeExpired(ctx context.Context, itemID uuid.UUID) (*time.Time, error)
	FinalizeWindow(ctx context.Context, raidID uuid.UUID) error
}

// TickPublisher receives the once-per-interval countdown snapshots.
// Implementations must not block bid arbitration; delivery is best effort.
type TickPublisher interface {
	PublishTick(ctx context.Context, tick Tick)
}

// Scheduler owns all live countdown state: one entry per active timed auction
// and one per open pre-auction window. Each entry is driven by its own
// goroutine; entries never share mutable state beyond the registry map.
type Scheduler struct {
	interval  time.Duration
	ticks     TickPublisher
	logger    *slog.Logger
	finalizer Finalizer

	mu      sync.Mutex
	entries map[uuid.UUID]*countdown

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type countdown struct {
	key    uuid.UUID // item ID, or raid ID for a window
	raidID uuid.UUID
	window bool

	mu      sync.Mutex
	endsAt  time.Time
	stop    chan struct{}
	stopped bool
}

// NewScheduler creates a scheduler ticking at the given interval
// (0 selects one second).
func NewScheduler(ticks TickPublisher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		interval: interval,
		ticks:    ticks,
		logger:   logger,
		entries:  make(map[uuid.UUID]*countdown),
		ctx:      context.Background(),
	}
}

// Bind attaches the finalizer. Separate from the constructor because the
// service and scheduler reference each other.
func (s *Scheduler) Bind(f Finalizer) {
	s.finalizer = f
}

// Start scopes all countdown goroutines to the given context. Must be called
// before any Track call.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels all countdowns and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// TrackAuction arms (or re-arms) the countdown for a timed auction.
func (s *Scheduler) TrackAuction(itemID, raidID uuid.UUID, endsAt time.Time) {
	s.track(itemID, raidID, endsAt, false)
}

// TrackWindow arms the raid-wide pre-auction countdown.
func (s *Scheduler) TrackWindow(raidID uuid.UUID, endsAt time.Time) {
	s.track(raidID, raidID, endsAt, true)
}

func (s *Scheduler) track(key, raidID uuid.UUID, endsAt time.Time, window bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		existing.setDeadline(endsAt)
		return
	}

	c := &countdown{
		key:    key,
		raidID: raidID,
		window: window,
		endsAt: endsAt,
		stop:   make(chan struct{}),
	}
	s.entries[key] = c

	s.wg.Add(1)
	go s.run(c)
}

// ExtendAuction moves an armed countdown's deadline (anti-snipe).
func (s *Scheduler) ExtendAuction(itemID uuid.UUID, endsAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.entries[itemID]; ok {
		c.setDeadline(endsAt)
	}
}

// ForgetAuction disarms an item countdown (manual award, raid cancel).
func (s *Scheduler) ForgetAuction(itemID uuid.UUID) {
	s.forget(itemID)
}

// ForgetWindow disarms a raid's pre-auction countdown.
func (s *Scheduler) ForgetWindow(raidID uuid.UUID) {
	s.forget(raidID)
}

func (s *Scheduler) forget(key uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.entries[key]; ok {
		if !c.stopped {
			c.stopped = true
			close(c.stop)
		}
		delete(s.entries, key)
	}
}

// Deadline reports the countdown deadline for a key, if armed.
func (s *Scheduler) Deadline(key uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.entries[key]; ok {
		return c.deadline(), true
	}
	return time.Time{}, false
}

// remove deletes the entry only if it is still the registered countdown for
// its key, so a re-armed replacement is never torn down by an exiting goroutine.
func (s *Scheduler) remove(c *countdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[c.key]; ok && cur == c {
		if !c.stopped {
			c.stopped = true
			close(c.stop)
		}
		delete(s.entries, c.key)
	}
}

func (s *Scheduler) run(c *countdown) {
	defer s.wg.Done()
	defer s.remove(c)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			endsAt := c.deadline()

			if now.Before(endsAt) {
				if s.ticks != nil {
					remaining := int64(endsAt.Sub(now).Round(time.Second).Seconds())
					s.ticks.PublishTick(s.ctx, Tick{
						ItemID:           c.key,
						RaidID:           c.raidID,
						EndsAt:           endsAt,
						RemainingSeconds: remaining,
						Window:           c.window,
					})
				}
				continue
			}

			if c.window {
				if err := s.finalizer.FinalizeWindow(s.ctx, c.raidID); err != nil {
					s.logger.Error("failed to finalize pre-auction window",
						"raid_id", c.raidID, "error", err)
					continue // retry next tick
				}
				return
			}

			next, err := s.finalizer.FinalizeExpired(s.ctx, c.key)
			if err != nil {
				s.logger.Error("failed to finalize auction",
					"item_id", c.key, "error", err)
				continue // retry next tick
			}
			if next != nil {
				// Bid landed just before expiry and pushed the deadline out
				c.setDeadline(*next)
				continue
			}
			return
		}
	}
}

func (c *countdown) deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endsAt
}

func (c *countdown) setDeadline(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endsAt = t
}
