package testhelpers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	"github.com/lootcouncil/raidpot/internal/domain/ledger"
	"github.com/lootcouncil/raidpot/internal/domain/raids"
	"github.com/lootcouncil/raidpot/pkg/events"
)

// In-memory repository fakes backing the domain service tests. Mutations apply
// immediately rather than at commit, so tests assert on the happy path or on
// rejections that happen before any write.

// WalletRepo is an in-memory ledger.Repository. Every mutation runs under one
// mutex, mirroring the per-row atomicity of the SQL implementation.
type WalletRepo struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*ledger.Wallet
}

func NewWalletRepo() *WalletRepo {
	return &WalletRepo{wallets: make(map[uuid.UUID]*ledger.Wallet)}
}

func (r *WalletRepo) get(userID uuid.UUID) *ledger.Wallet {
	w, ok := r.wallets[userID]
	if !ok {
		now := time.Now()
		w = &ledger.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
		r.wallets[userID] = w
	}
	return w
}

func (r *WalletRepo) GetWallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := *r.get(userID)
	return &w, nil
}

func (r *WalletRepo) Reserve(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.get(userID)
	if w.Balance-w.LockedAmount < amount {
		return nil, ledger.ErrInsufficientBalance
	}
	w.LockedAmount += amount
	w.UpdatedAt = time.Now()
	out := *w
	return &out, nil
}

func (r *WalletRepo) Release(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.get(userID)
	w.LockedAmount -= amount
	if w.LockedAmount < 0 {
		w.LockedAmount = 0
	}
	w.UpdatedAt = time.Now()
	out := *w
	return &out, nil
}

func (r *WalletRepo) Settle(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.get(userID)
	if w.LockedAmount < amount || w.Balance < amount {
		return nil, fmt.Errorf("settle %d for %s: %w", amount, userID, ledger.ErrLedgerInconsistent)
	}
	w.Balance -= amount
	w.LockedAmount -= amount
	w.UpdatedAt = time.Now()
	out := *w
	return &out, nil
}

func (r *WalletRepo) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) (*ledger.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.get(userID)
	w.Balance += amount
	w.UpdatedAt = time.Now()
	out := *w
	return &out, nil
}

// Fund sets up a starting balance.
func (r *WalletRepo) Fund(userID uuid.UUID, amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(userID).Balance = amount
}

// TotalGold sums all balances, for conservation checks.
func (r *WalletRepo) TotalGold() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, w := range r.wallets {
		total += w.Balance
	}
	return total
}

// ItemRepo is an in-memory auctions.ItemRepository. ForUpdate reads take the
// shared row lock for the item, so concurrent transactions serialize the same
// way they do against Postgres.
type ItemRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*auctions.Item
	locks *Locks
}

func NewItemRepo(locks *Locks) *ItemRepo {
	return &ItemRepo{items: make(map[uuid.UUID]*auctions.Item), locks: locks}
}

func itemLockKey(itemID uuid.UUID) string {
	return "item:" + itemID.String()
}

func (r *ItemRepo) CreateItem(ctx context.Context, item *auctions.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *item
	r.items[item.ID] = &stored
	return nil
}

func (r *ItemRepo) GetItemByID(ctx context.Context, itemID uuid.UUID) (*auctions.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, auctions.ErrItemNotFound
	}
	out := *item
	return &out, nil
}

func (r *ItemRepo) GetItemByIDForUpdate(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*auctions.Item, error) {
	r.locks.Acquire(tx, itemLockKey(itemID))
	return r.GetItemByID(ctx, itemID)
}

func (r *ItemRepo) UpdateItem(ctx context.Context, tx pgx.Tx, item *auctions.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; !ok {
		return auctions.ErrItemNotFound
	}
	stored := *item
	stored.UpdatedAt = time.Now()
	r.items[item.ID] = &stored
	return nil
}

func (r *ItemRepo) DeleteItemPending(ctx context.Context, itemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return auctions.ErrItemNotFound
	}
	if item.Status != auctions.ItemStatusPending {
		return auctions.ErrItemNotPending
	}
	delete(r.items, itemID)
	return nil
}

func (r *ItemRepo) ActiveItemExists(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.items {
		if item.RaidID == raidID && item.Status == auctions.ItemStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (r *ItemRepo) ListItemsByRaid(ctx context.Context, raidID uuid.UUID) ([]*auctions.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*auctions.Item
	for _, item := range r.items {
		if item.RaidID == raidID {
			copied := *item
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *ItemRepo) ListItemsByRaidForUpdate(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) ([]*auctions.Item, error) {
	items, err := r.ListItemsByRaid(ctx, raidID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		r.locks.Acquire(tx, itemLockKey(item.ID))
	}
	// Re-read after acquiring: another tx may have committed in between.
	return r.ListItemsByRaid(ctx, raidID)
}

func (r *ItemRepo) MarkPendingItemsPreAuction(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.items {
		if item.RaidID == raidID && item.Status == auctions.ItemStatusPending {
			item.Status = auctions.ItemStatusActive
			item.PreAuction = true
			item.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (r *ItemRepo) ListActiveAuctions(ctx context.Context) ([]*auctions.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*auctions.Item
	for _, item := range r.items {
		if item.Status == auctions.ItemStatusActive && !item.PreAuction {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

// BidRepo is an in-memory auctions.BidRepository.
type BidRepo struct {
	mu   sync.Mutex
	bids []*auctions.Bid
}

func NewBidRepo() *BidRepo {
	return &BidRepo{}
}

func (r *BidRepo) SaveBid(ctx context.Context, tx pgx.Tx, bid *auctions.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *bid
	r.bids = append(r.bids, &stored)
	return nil
}

func (r *BidRepo) GetBidsByItemID(ctx context.Context, itemID uuid.UUID) ([]*auctions.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auctions.Bid
	// Insertion order is chronological; callers expect newest first.
	for i := len(r.bids) - 1; i >= 0; i-- {
		if r.bids[i].ItemID == itemID {
			copied := *r.bids[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

// RaidRepo is an in-memory store implementing both raids.Repository and
// auctions.RaidStore, like its Postgres counterpart.
type RaidRepo struct {
	mu           sync.Mutex
	raids        map[uuid.UUID]*raids.Raid
	participants map[uuid.UUID][]raids.Participant
	locks        *Locks
}

func NewRaidRepo(locks *Locks) *RaidRepo {
	return &RaidRepo{
		raids:        make(map[uuid.UUID]*raids.Raid),
		participants: make(map[uuid.UUID][]raids.Participant),
		locks:        locks,
	}
}

func raidLockKey(raidID uuid.UUID) string {
	return "raid:" + raidID.String()
}

func (r *RaidRepo) CreateRaid(ctx context.Context, raid *raids.Raid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *raid
	r.raids[raid.ID] = &stored
	r.participants[raid.ID] = append(r.participants[raid.ID], raids.Participant{
		RaidID:   raid.ID,
		UserID:   raid.LeaderID,
		Role:     raids.RoleLeader,
		JoinedAt: time.Now(),
	})
	return nil
}

func (r *RaidRepo) GetRaidByID(ctx context.Context, raidID uuid.UUID) (*raids.Raid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raid, ok := r.raids[raidID]
	if !ok {
		return nil, raids.ErrRaidNotFound
	}
	out := *raid
	return &out, nil
}

func (r *RaidRepo) GetRaidByIDForUpdate(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*raids.Raid, error) {
	r.locks.Acquire(tx, raidLockKey(raidID))
	return r.GetRaidByID(ctx, raidID)
}

func (r *RaidRepo) UpdateRaid(ctx context.Context, tx pgx.Tx, raid *raids.Raid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.raids[raid.ID]; !ok {
		return raids.ErrRaidNotFound
	}
	stored := *raid
	stored.UpdatedAt = time.Now()
	r.raids[raid.ID] = &stored
	return nil
}

func (r *RaidRepo) AddParticipants(ctx context.Context, raidID uuid.UUID, participants []raids.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := make(map[uuid.UUID]bool)
	for _, p := range r.participants[raidID] {
		existing[p.UserID] = true
	}
	for _, p := range participants {
		if !existing[p.UserID] {
			r.participants[raidID] = append(r.participants[raidID], p)
			existing[p.UserID] = true
		}
	}
	return nil
}

func (r *RaidRepo) ListParticipants(ctx context.Context, raidID uuid.UUID) ([]raids.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]raids.Participant, len(r.participants[raidID]))
	copy(out, r.participants[raidID])
	return out, nil
}

func (r *RaidRepo) ListOpenWindows(ctx context.Context) ([]*raids.Raid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*raids.Raid
	for _, raid := range r.raids {
		if raid.PreAuctionEndsAt != nil {
			copied := *raid
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *RaidRepo) LockRaid(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*auctions.RaidWindow, error) {
	r.locks.Acquire(tx, raidLockKey(raidID))
	r.mu.Lock()
	defer r.mu.Unlock()
	raid, ok := r.raids[raidID]
	if !ok {
		return nil, raids.ErrRaidNotFound
	}
	if raid.Status == raids.RaidStatusCompleted || raid.Status == raids.RaidStatusCancelled {
		return nil, auctions.ErrRaidClosed
	}
	return &auctions.RaidWindow{RaidID: raidID, PreAuctionEndsAt: raid.PreAuctionEndsAt}, nil
}

func (r *RaidRepo) GetWindow(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*auctions.RaidWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raid, ok := r.raids[raidID]
	if !ok {
		return nil, raids.ErrRaidNotFound
	}
	return &auctions.RaidWindow{RaidID: raidID, PreAuctionEndsAt: raid.PreAuctionEndsAt}, nil
}

func (r *RaidRepo) ActivateRaid(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raid, ok := r.raids[raidID]
	if !ok {
		return raids.ErrRaidNotFound
	}
	if raid.Status == raids.RaidStatusPending {
		raid.Status = raids.RaidStatusActive
	}
	return nil
}

func (r *RaidRepo) AddToPot(ctx context.Context, tx pgx.Tx, raidID uuid.UUID, amount int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raid, ok := r.raids[raidID]
	if !ok {
		return 0, raids.ErrRaidNotFound
	}
	raid.PotTotal += amount
	return raid.PotTotal, nil
}

func (r *RaidRepo) ClearWindow(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raid, ok := r.raids[raidID]
	if !ok {
		return raids.ErrRaidNotFound
	}
	raid.PreAuctionEndsAt = nil
	return nil
}

// OutboxRepo is an in-memory events.OutboxRepository recording every saved
// event so tests can assert on emission.
type OutboxRepo struct {
	mu     sync.Mutex
	events []*events.OutboxEvent
}

func NewOutboxRepo() *OutboxRepo {
	return &OutboxRepo{}
}

func (r *OutboxRepo) SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *event
	r.events = append(r.events, &stored)
	return nil
}

func (r *OutboxRepo) GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*events.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.OutboxEvent
	for _, e := range r.events {
		if e.Status == events.OutboxStatusPending {
			copied := *e
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *OutboxRepo) UpdateEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status events.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Status = status
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", id)
}

// EventsOfType returns all saved events with the given type, oldest first.
func (r *OutboxRepo) EventsOfType(eventType string) []*events.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.OutboxEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out
}

// RecordingScheduler captures notifier calls for assertions.
type RecordingScheduler struct {
	mu        sync.Mutex
	Auctions  map[uuid.UUID]time.Time
	Windows   map[uuid.UUID]time.Time
	Extended  map[uuid.UUID]int
	Forgotten map[uuid.UUID]int
}

func NewRecordingScheduler() *RecordingScheduler {
	return &RecordingScheduler{
		Auctions:  make(map[uuid.UUID]time.Time),
		Windows:   make(map[uuid.UUID]time.Time),
		Extended:  make(map[uuid.UUID]int),
		Forgotten: make(map[uuid.UUID]int),
	}
}

func (s *RecordingScheduler) TrackAuction(itemID, raidID uuid.UUID, endsAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Auctions[itemID] = endsAt
}

func (s *RecordingScheduler) ExtendAuction(itemID uuid.UUID, endsAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Auctions[itemID] = endsAt
	s.Extended[itemID]++
}

func (s *RecordingScheduler) ForgetAuction(itemID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Auctions, itemID)
	s.Forgotten[itemID]++
}

func (s *RecordingScheduler) TrackWindow(raidID uuid.UUID, endsAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Windows[raidID] = endsAt
}

func (s *RecordingScheduler) ForgetWindow(raidID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Windows, raidID)
}

// TrackedAuction returns the deadline the scheduler currently holds for the item.
func (s *RecordingScheduler) TrackedAuction(itemID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Auctions[itemID]
	return t, ok
}

// ExtensionCount returns how many times the item's deadline was extended.
func (s *RecordingScheduler) ExtensionCount(itemID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Extended[itemID]
}
