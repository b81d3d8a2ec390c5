package auctions_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	"github.com/lootcouncil/raidpot/internal/domain/ledger"
	"github.com/lootcouncil/raidpot/internal/domain/raids"
	"github.com/lootcouncil/raidpot/internal/testhelpers"
)

type env struct {
	svc      *auctions.Service
	wallets  *testhelpers.WalletRepo
	itemRepo *testhelpers.ItemRepo
	bidRepo  *testhelpers.BidRepo
	raidRepo *testhelpers.RaidRepo
	outbox   *testhelpers.OutboxRepo
	sched    *testhelpers.RecordingScheduler
}

func newEnv(t *testing.T, snipeThreshold time.Duration) *env {
	t.Helper()
	locks := testhelpers.NewLocks()
	e := &env{
		wallets:  testhelpers.NewWalletRepo(),
		itemRepo: testhelpers.NewItemRepo(locks),
		bidRepo:  testhelpers.NewBidRepo(),
		raidRepo: testhelpers.NewRaidRepo(locks),
		outbox:   testhelpers.NewOutboxRepo(),
		sched:    testhelpers.NewRecordingScheduler(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = auctions.NewService(
		testhelpers.NewTxManager(),
		e.itemRepo, e.bidRepo, e.wallets, e.raidRepo, e.outbox,
		e.sched, snipeThreshold, logger,
	)
	return e
}

func (e *env) createRaid(t *testing.T, leaderID uuid.UUID) uuid.UUID {
	t.Helper()
	raid := &raids.Raid{
		ID:       uuid.New(),
		Name:     "Molten Core",
		Status:   raids.RaidStatusPending,
		LeaderID: leaderID,
	}
	require.NoError(t, e.raidRepo.CreateRaid(context.Background(), raid))
	return raid.ID
}

func (e *env) addItem(t *testing.T, raidID uuid.UUID, startingBid, increment int64) *auctions.Item {
	t.Helper()
	item, err := e.svc.AddItem(context.Background(), auctions.AddItemCommand{
		RaidID:       raidID,
		Name:         "Sulfuras Fragment",
		StartingBid:  startingBid,
		MinIncrement: increment,
	})
	require.NoError(t, err)
	return item
}

func (e *env) startAuction(t *testing.T, itemID uuid.UUID, d time.Duration) *auctions.Item {
	t.Helper()
	item, err := e.svc.StartAuction(context.Background(), auctions.StartAuctionCommand{
		ItemID:   itemID,
		Duration: d,
	})
	require.NoError(t, err)
	return item
}

// openWindow puts every pending raid item into the raid-wide pre-auction
// window, the way a roster lock does.
func (e *env) openWindow(t *testing.T, raidID uuid.UUID, d time.Duration) {
	t.Helper()
	ctx := context.Background()
	_, err := e.itemRepo.MarkPendingItemsPreAuction(ctx, nil, raidID)
	require.NoError(t, err)

	raid, err := e.raidRepo.GetRaidByID(ctx, raidID)
	require.NoError(t, err)
	endsAt := time.Now().Add(d)
	raid.PreAuctionEndsAt = &endsAt
	raid.Status = raids.RaidStatusActive
	require.NoError(t, e.raidRepo.UpdateRaid(ctx, nil, raid))
}

func TestStartAuction(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()

	t.Run("activates a pending item", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)

		started := e.startAuction(t, item.ID, time.Minute)

		assert.Equal(t, auctions.ItemStatusActive, started.Status)
		require.NotNil(t, started.EndsAt)
		assert.WithinDuration(t, time.Now().Add(time.Minute), *started.EndsAt, 2*time.Second)

		deadline, tracked := e.sched.TrackedAuction(item.ID)
		require.True(t, tracked)
		assert.Equal(t, *started.EndsAt, deadline)

		raid, err := e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		assert.Equal(t, raids.RaidStatusActive, raid.Status)

		saved := e.outbox.EventsOfType(auctions.EventTypeAuctionStarted)
		require.Len(t, saved, 1)
		assert.Equal(t, auctions.EventTypeAuctionStarted+"."+raidID.String(), saved[0].RoutingKey)
	})

	t.Run("only one live auction per raid", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		first := e.addItem(t, raidID, 50, 5)
		second := e.addItem(t, raidID, 50, 5)

		e.startAuction(t, first.ID, time.Minute)

		_, err := e.svc.StartAuction(ctx, auctions.StartAuctionCommand{
			ItemID:   second.ID,
			Duration: time.Minute,
		})
		assert.ErrorIs(t, err, auctions.ErrAuctionAlreadyActive)
	})

	t.Run("rejects non-pending items", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.startAuction(t, item.ID, time.Minute)

		_, err := e.svc.StartAuction(ctx, auctions.StartAuctionCommand{
			ItemID:   item.ID,
			Duration: time.Minute,
		})
		assert.ErrorIs(t, err, auctions.ErrItemNotPending)
	})

	t.Run("rejects invalid parameters", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)

		_, err := e.svc.StartAuction(ctx, auctions.StartAuctionCommand{ItemID: item.ID})
		assert.ErrorIs(t, err, auctions.ErrInvalidDuration)

		badInc := int64(0)
		_, err = e.svc.StartAuction(ctx, auctions.StartAuctionCommand{
			ItemID: item.ID, Duration: time.Minute, Increment: &badInc,
		})
		assert.ErrorIs(t, err, auctions.ErrInvalidIncrement)
	})

	t.Run("applies overrides at start", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)

		minBid, inc := int64(200), int64(25)
		started, err := e.svc.StartAuction(ctx, auctions.StartAuctionCommand{
			ItemID: item.ID, Duration: time.Minute, MinBid: &minBid, Increment: &inc,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(200), started.StartingBid)
		assert.Equal(t, int64(25), started.MinIncrement)
		assert.Equal(t, int64(200), started.MinimumBid())
	})

	t.Run("rejects closed raids", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)

		raid, err := e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		raid.Status = raids.RaidStatusCancelled
		require.NoError(t, e.raidRepo.UpdateRaid(ctx, nil, raid))

		_, err = e.svc.StartAuction(ctx, auctions.StartAuctionCommand{
			ItemID: item.ID, Duration: time.Minute,
		})
		assert.ErrorIs(t, err, auctions.ErrRaidClosed)
	})
}

func TestPlaceBid_Arbitration(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	setup := func(t *testing.T) (*env, *auctions.Item) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.startAuction(t, item.ID, time.Minute)
		e.wallets.Fund(alice, 1000)
		e.wallets.Fund(bob, 1000)
		return e, item
	}

	t.Run("full arbitration sequence", func(t *testing.T) {
		e, item := setup(t)

		// Opening bid at the starting price.
		res, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 55})
		require.NoError(t, err)
		assert.Equal(t, int64(55), res.Item.CurrentBid)
		assert.True(t, res.Item.IsWinner(alice))

		w, _ := e.wallets.GetWallet(ctx, alice)
		assert.Equal(t, int64(55), w.LockedAmount)

		// The leader cannot outbid themselves.
		_, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 70})
		assert.ErrorIs(t, err, auctions.ErrAlreadyWinning)

		// Matching the current bid is not enough.
		_, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: bob, Amount: 55})
		var tooLow *auctions.BidTooLowError
		require.ErrorAs(t, err, &tooLow)
		assert.Equal(t, int64(60), tooLow.Minimum)

		// Meeting the minimum takes the lead and frees the previous reservation.
		res, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: bob, Amount: 60})
		require.NoError(t, err)
		assert.True(t, res.Item.IsWinner(bob))

		w, _ = e.wallets.GetWallet(ctx, alice)
		assert.Zero(t, w.LockedAmount, "outbid reservation must be released")
		w, _ = e.wallets.GetWallet(ctx, bob)
		assert.Equal(t, int64(60), w.LockedAmount)

		// Trail is append-only, newest first.
		bids, err := e.svc.ListBids(ctx, item.ID)
		require.NoError(t, err)
		require.Len(t, bids, 2)
		assert.Equal(t, int64(60), bids[0].Amount)
		assert.Equal(t, int64(55), bids[1].Amount)
	})

	t.Run("validation order", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		pending := e.addItem(t, raidID, 50, 5)

		// Status is checked before the amount.
		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: pending.ID, UserID: alice, Amount: -1})
		assert.ErrorIs(t, err, auctions.ErrAuctionNotActive)

		item := e.startAuction(t, pending.ID, time.Minute)
		_, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 0})
		assert.ErrorIs(t, err, auctions.ErrInvalidBidAmount)

		_, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: uuid.New(), UserID: alice, Amount: 50})
		assert.ErrorIs(t, err, auctions.ErrItemNotFound)
	})

	t.Run("rejects bids after the deadline", func(t *testing.T) {
		e, item := setup(t)

		// Rewind the deadline behind the clock.
		stored, err := e.itemRepo.GetItemByID(ctx, item.ID)
		require.NoError(t, err)
		past := time.Now().Add(-time.Second)
		stored.EndsAt = &past
		require.NoError(t, e.itemRepo.UpdateItem(ctx, nil, stored))

		_, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 55})
		assert.ErrorIs(t, err, auctions.ErrAuctionEnded)
	})

	t.Run("insufficient balance leaves state untouched", func(t *testing.T) {
		e, item := setup(t)
		poor := uuid.New()
		e.wallets.Fund(poor, 10)

		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: poor, Amount: 55})
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

		stored, err := e.itemRepo.GetItemByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.WinnerID)
		assert.Zero(t, stored.CurrentBid)
	})

	t.Run("reservation counts against available balance", func(t *testing.T) {
		e, item := setup(t)
		raidID2 := e.createRaid(t, leader)
		other := e.addItem(t, raidID2, 50, 5)
		e.startAuction(t, other.ID, time.Minute)

		// Alice has 1000; leading with 900 leaves only 100 available.
		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 900})
		require.NoError(t, err)

		_, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: other.ID, UserID: alice, Amount: 200})
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

		_, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: other.ID, UserID: alice, Amount: 100})
		assert.NoError(t, err)
	})

	t.Run("events are queued with the bid", func(t *testing.T) {
		e, item := setup(t)

		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 55})
		require.NoError(t, err)

		bidEvents := e.outbox.EventsOfType(auctions.EventTypeBidPlaced)
		require.Len(t, bidEvents, 1)
		assert.Equal(t, auctions.EventTypeBidPlaced+"."+item.RaidID.String(), bidEvents[0].RoutingKey)

		walletEvents := e.outbox.EventsOfType(ledger.EventTypeWalletUpdated)
		require.Len(t, walletEvents, 1)
		assert.Equal(t, ledger.EventTypeWalletUpdated+"."+alice.String(), walletEvents[0].RoutingKey)
	})
}

func TestPlaceBid_AntiSnipe(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()
	alice := uuid.New()

	t.Run("late bid extends the deadline", func(t *testing.T) {
		e := newEnv(t, 10*time.Second)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.startAuction(t, item.ID, 5*time.Second)
		e.wallets.Fund(alice, 1000)

		res, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 55})
		require.NoError(t, err)
		assert.True(t, res.Extended)
		require.NotNil(t, res.Item.EndsAt)
		assert.WithinDuration(t, time.Now().Add(10*time.Second), *res.Item.EndsAt, 2*time.Second)

		assert.Equal(t, 1, e.sched.ExtensionCount(item.ID))
		assert.Len(t, e.outbox.EventsOfType(auctions.EventTypeAuctionExtended), 1)
	})

	t.Run("early bid does not extend", func(t *testing.T) {
		e := newEnv(t, 10*time.Second)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.startAuction(t, item.ID, time.Minute)
		e.wallets.Fund(alice, 1000)

		res, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 55})
		require.NoError(t, err)
		assert.False(t, res.Extended)
		assert.Zero(t, e.sched.ExtensionCount(item.ID))
	})
}

func TestPlaceBid_PreAuctionWindow(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()
	alice := uuid.New()

	t.Run("bids accepted while the window is open", func(t *testing.T) {
		e := newEnv(t, 10*time.Second)
		raidID := e.createRaid(t, leader)
		first := e.addItem(t, raidID, 50, 5)
		second := e.addItem(t, raidID, 100, 10)
		e.openWindow(t, raidID, time.Minute)
		e.wallets.Fund(alice, 1000)

		// Parallel bidding across items is the point of the window.
		res, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: first.ID, UserID: alice, Amount: 50})
		require.NoError(t, err)
		assert.False(t, res.Extended, "window deadlines never extend")

		_, err = e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: second.ID, UserID: alice, Amount: 100})
		require.NoError(t, err)

		w, _ := e.wallets.GetWallet(ctx, alice)
		assert.Equal(t, int64(150), w.LockedAmount)
	})

	t.Run("bids rejected after the window closes", func(t *testing.T) {
		e := newEnv(t, 10*time.Second)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.openWindow(t, raidID, -time.Second)
		e.wallets.Fund(alice, 1000)

		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 50})
		assert.ErrorIs(t, err, auctions.ErrAuctionEnded)
	})
}

func TestPlaceBid_ConcurrentBidders(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()

	e := newEnv(t, 0)
	raidID := e.createRaid(t, leader)
	item := e.addItem(t, raidID, 100, 5)
	e.startAuction(t, item.ID, time.Minute)

	const bidders = 8
	users := make([]uuid.UUID, bidders)
	for i := range users {
		users[i] = uuid.New()
		e.wallets.Fund(users[i], 10_000)
	}

	// Concurrent distinct amounts; arbitration behind the item lock decides
	// the interleaving. The top amount always clears the minimum, so it must
	// win regardless of ordering.
	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := int64(100 + i*10)
			_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{
				ItemID: item.ID,
				UserID: users[i],
				Amount: amount,
			})
			if err != nil {
				// Losing interleavings surface as ordinary rejections.
				assert.ErrorIs(t, err, auctions.ErrBidTooLow)
			}
		}(i)
	}
	wg.Wait()

	final, err := e.itemRepo.GetItemByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(170), final.CurrentBid)
	require.NotNil(t, final.WinnerID)
	assert.Equal(t, users[bidders-1], *final.WinnerID)

	// Exactly one reservation stands: the winner's, for the winning amount.
	for i, userID := range users {
		w, err := e.wallets.GetWallet(ctx, userID)
		require.NoError(t, err)
		if userID == *final.WinnerID {
			assert.Equal(t, int64(170), w.LockedAmount)
		} else {
			assert.Zero(t, w.LockedAmount, "bidder %d should hold no reservation", i)
		}
	}

	// The accepted trail is strictly increasing.
	bids, err := e.svc.ListBids(ctx, item.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	for i := 0; i < len(bids)-1; i++ {
		assert.Greater(t, bids[i].Amount, bids[i+1].Amount)
	}
}

func TestFinalizeExpired(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()
	alice := uuid.New()

	expire := func(t *testing.T, e *env, itemID uuid.UUID) {
		t.Helper()
		stored, err := e.itemRepo.GetItemByID(ctx, itemID)
		require.NoError(t, err)
		past := time.Now().Add(-time.Second)
		stored.EndsAt = &past
		require.NoError(t, e.itemRepo.UpdateItem(ctx, nil, stored))
	}

	t.Run("settles the winner into the pot", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.startAuction(t, item.ID, time.Minute)
		e.wallets.Fund(alice, 1000)

		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 60})
		require.NoError(t, err)

		expire(t, e, item.ID)
		next, err := e.svc.FinalizeExpired(ctx, item.ID)
		require.NoError(t, err)
		assert.Nil(t, next)

		stored, err := e.itemRepo.GetItemByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, auctions.ItemStatusCompleted, stored.Status)
		assert.Nil(t, stored.EndsAt)

		w, _ := e.wallets.GetWallet(ctx, alice)
		assert.Equal(t, int64(940), w.Balance)
		assert.Zero(t, w.LockedAmount)

		raid, err := e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), raid.PotTotal)

		assert.Len(t, e.outbox.EventsOfType(auctions.EventTypeAuctionEnded), 1)
	})

	t.Run("no bids closes without pot change", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.startAuction(t, item.ID, time.Minute)

		expire(t, e, item.ID)
		next, err := e.svc.FinalizeExpired(ctx, item.ID)
		require.NoError(t, err)
		assert.Nil(t, next)

		stored, err := e.itemRepo.GetItemByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, auctions.ItemStatusCompleted, stored.Status)
		assert.Nil(t, stored.WinnerID)

		raid, err := e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		assert.Zero(t, raid.PotTotal)
	})

	t.Run("extended deadline defers finalization", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		started := e.startAuction(t, item.ID, time.Minute)

		next, err := e.svc.FinalizeExpired(ctx, item.ID)
		require.NoError(t, err)
		require.NotNil(t, next, "live deadline should be returned for rescheduling")
		assert.Equal(t, started.EndsAt.Unix(), next.Unix())
	})

	t.Run("idempotent on closed items", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.startAuction(t, item.ID, time.Minute)

		expire(t, e, item.ID)
		_, err := e.svc.FinalizeExpired(ctx, item.ID)
		require.NoError(t, err)

		next, err := e.svc.FinalizeExpired(ctx, item.ID)
		require.NoError(t, err)
		assert.Nil(t, next)
		assert.Len(t, e.outbox.EventsOfType(auctions.EventTypeAuctionEnded), 1)
	})
}

func TestManualAward(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()
	alice := uuid.New()
	bob := uuid.New()

	t.Run("awards a pending item at a fixed price", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.wallets.Fund(bob, 500)

		awarded, err := e.svc.ManualAward(ctx, auctions.ManualAwardCommand{
			ItemID: item.ID, WinnerID: bob, Price: 80,
		})
		require.NoError(t, err)
		assert.Equal(t, auctions.ItemStatusCompleted, awarded.Status)
		assert.Equal(t, int64(80), awarded.CurrentBid)
		assert.True(t, awarded.IsWinner(bob))

		w, _ := e.wallets.GetWallet(ctx, bob)
		assert.Equal(t, int64(420), w.Balance)
		assert.Zero(t, w.LockedAmount)

		raid, err := e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		assert.Equal(t, int64(80), raid.PotTotal)

		saved := e.outbox.EventsOfType(auctions.EventTypeAuctionAwarded)
		require.Len(t, saved, 1)
	})

	t.Run("releases the leading reservation first", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.startAuction(t, item.ID, time.Minute)
		e.wallets.Fund(alice, 1000)
		e.wallets.Fund(bob, 1000)

		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 60})
		require.NoError(t, err)

		_, err = e.svc.ManualAward(ctx, auctions.ManualAwardCommand{
			ItemID: item.ID, WinnerID: bob, Price: 100,
		})
		require.NoError(t, err)

		w, _ := e.wallets.GetWallet(ctx, alice)
		assert.Equal(t, int64(1000), w.Balance)
		assert.Zero(t, w.LockedAmount)

		w, _ = e.wallets.GetWallet(ctx, bob)
		assert.Equal(t, int64(900), w.Balance)

		assert.Zero(t, e.sched.Auctions[item.ID], "countdown must be dropped")
	})

	t.Run("rejects closed items and bad prices", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.wallets.Fund(bob, 500)

		_, err := e.svc.ManualAward(ctx, auctions.ManualAwardCommand{ItemID: item.ID, WinnerID: bob, Price: 0})
		assert.ErrorIs(t, err, auctions.ErrInvalidBidAmount)

		_, err = e.svc.ManualAward(ctx, auctions.ManualAwardCommand{ItemID: item.ID, WinnerID: bob, Price: 80})
		require.NoError(t, err)

		_, err = e.svc.ManualAward(ctx, auctions.ManualAwardCommand{ItemID: item.ID, WinnerID: bob, Price: 90})
		assert.ErrorIs(t, err, auctions.ErrManualAwardNotAllowed)
	})
}

func TestFinalizeWindowAndClaim(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()
	alice := uuid.New()

	t.Run("window close splits won and unsold items", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		won := e.addItem(t, raidID, 50, 5)
		unsold := e.addItem(t, raidID, 50, 5)
		e.openWindow(t, raidID, time.Minute)
		e.wallets.Fund(alice, 1000)

		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: won.ID, UserID: alice, Amount: 50})
		require.NoError(t, err)

		// Close the window.
		raid, err := e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		past := time.Now().Add(-time.Second)
		raid.PreAuctionEndsAt = &past
		require.NoError(t, e.raidRepo.UpdateRaid(ctx, nil, raid))

		require.NoError(t, e.svc.FinalizeWindow(ctx, raidID))

		stored, err := e.itemRepo.GetItemByID(ctx, won.ID)
		require.NoError(t, err)
		assert.Equal(t, auctions.ItemStatusEnded, stored.Status)

		stored, err = e.itemRepo.GetItemByID(ctx, unsold.ID)
		require.NoError(t, err)
		assert.Equal(t, auctions.ItemStatusPending, stored.Status)
		assert.False(t, stored.PreAuction, "unsold items return to the normal queue")

		raid, err = e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		assert.Nil(t, raid.PreAuctionEndsAt)

		// Reservation stays held until claim; pot unchanged so far.
		w, _ := e.wallets.GetWallet(ctx, alice)
		assert.Equal(t, int64(50), w.LockedAmount)
		assert.Equal(t, int64(1000), w.Balance)
		assert.Zero(t, raid.PotTotal)

		assert.Len(t, e.outbox.EventsOfType(auctions.EventTypePreAuctionEnded), 1)
	})

	t.Run("claim settles the ended item", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)
		e.openWindow(t, raidID, time.Minute)
		e.wallets.Fund(alice, 1000)

		_, err := e.svc.PlaceBid(ctx, auctions.PlaceBidCommand{ItemID: item.ID, UserID: alice, Amount: 75})
		require.NoError(t, err)

		raid, err := e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		past := time.Now().Add(-time.Second)
		raid.PreAuctionEndsAt = &past
		require.NoError(t, e.raidRepo.UpdateRaid(ctx, nil, raid))
		require.NoError(t, e.svc.FinalizeWindow(ctx, raidID))

		claimed, err := e.svc.Claim(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, auctions.ItemStatusClaimed, claimed.Status)

		w, _ := e.wallets.GetWallet(ctx, alice)
		assert.Equal(t, int64(925), w.Balance)
		assert.Zero(t, w.LockedAmount)

		raid, err = e.raidRepo.GetRaidByID(ctx, raidID)
		require.NoError(t, err)
		assert.Equal(t, int64(75), raid.PotTotal)

		// A second claim must not settle twice.
		_, err = e.svc.Claim(ctx, item.ID)
		assert.ErrorIs(t, err, auctions.ErrItemNotClaimable)
	})

	t.Run("claim requires a recorded winner", func(t *testing.T) {
		e := newEnv(t, 0)
		raidID := e.createRaid(t, leader)
		item := e.addItem(t, raidID, 50, 5)

		_, err := e.svc.Claim(ctx, item.ID)
		assert.ErrorIs(t, err, auctions.ErrItemNotClaimable)
	})
}

func TestResumeTimers(t *testing.T) {
	ctx := context.Background()
	leader := uuid.New()

	e := newEnv(t, 0)
	raidID := e.createRaid(t, leader)
	item := e.addItem(t, raidID, 50, 5)
	started := e.startAuction(t, item.ID, time.Minute)

	// Simulate a restart with a fresh scheduler.
	e.sched = testhelpers.NewRecordingScheduler()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = auctions.NewService(
		testhelpers.NewTxManager(),
		e.itemRepo, e.bidRepo, e.wallets, e.raidRepo, e.outbox,
		e.sched, 0, logger,
	)

	require.NoError(t, e.svc.ResumeTimers(ctx))

	deadline, tracked := e.sched.TrackedAuction(item.ID)
	require.True(t, tracked)
	assert.Equal(t, started.EndsAt.Unix(), deadline.Unix())
}
