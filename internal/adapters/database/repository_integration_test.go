//go:build integration

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lootcouncil/raidpot/internal/adapters/database"
	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	"github.com/lootcouncil/raidpot/internal/domain/ledger"
	"github.com/lootcouncil/raidpot/internal/domain/raids"
	"github.com/lootcouncil/raidpot/internal/testhelpers"
	pkgdb "github.com/lootcouncil/raidpot/pkg/database"
	"github.com/lootcouncil/raidpot/pkg/events"
)

func inTx(t *testing.T, tm pkgdb.TransactionManager, fn func(tx pgx.Tx) error) {
	t.Helper()
	ctx := context.Background()
	tx, err := tm.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	require.NoError(t, fn(tx))
	require.NoError(t, tx.Commit(ctx))
}

func seedRaid(t *testing.T, repo *database.PostgresRaidRepository, leaderID uuid.UUID) *raids.Raid {
	t.Helper()
	now := time.Now()
	raid := &raids.Raid{
		ID:        uuid.New(),
		Name:      "integration raid",
		Status:    raids.RaidStatusPending,
		LeaderID:  leaderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.CreateRaid(context.Background(), raid))
	return raid
}

func seedItem(t *testing.T, repo *database.PostgresItemRepository, raidID uuid.UUID) *auctions.Item {
	t.Helper()
	now := time.Now()
	item := &auctions.Item{
		ID:           uuid.New(),
		RaidID:       raidID,
		Name:         "integration item",
		StartingBid:  50,
		MinIncrement: 5,
		Status:       auctions.ItemStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.CreateItem(context.Background(), item))
	return item
}

func TestWalletRepository(t *testing.T) {
	db := testhelpers.NewTestDatabase(t)
	defer db.Close()

	ctx := context.Background()
	repo := database.NewPostgresWalletRepository(db.Pool)
	tm := pkgdb.NewPostgresTransactionManager(db.Pool, 3*time.Second)
	userID := uuid.New()

	t.Run("first read creates an empty wallet", func(t *testing.T) {
		wallet, err := repo.GetWallet(ctx, userID)
		require.NoError(t, err)
		assert.Zero(t, wallet.Balance)
		assert.Zero(t, wallet.LockedAmount)
	})

	t.Run("credit reserve settle round trip", func(t *testing.T) {
		inTx(t, tm, func(tx pgx.Tx) error {
			_, err := repo.Credit(ctx, tx, userID, 1000)
			return err
		})

		inTx(t, tm, func(tx pgx.Tx) error {
			wallet, err := repo.Reserve(ctx, tx, userID, 400)
			if err != nil {
				return err
			}
			assert.Equal(t, int64(400), wallet.LockedAmount)
			assert.Equal(t, int64(600), wallet.Available())
			return nil
		})

		inTx(t, tm, func(tx pgx.Tx) error {
			wallet, err := repo.Settle(ctx, tx, userID, 400)
			if err != nil {
				return err
			}
			assert.Equal(t, int64(600), wallet.Balance)
			assert.Zero(t, wallet.LockedAmount)
			return nil
		})
	})

	t.Run("reserve beyond available fails", func(t *testing.T) {
		tx, err := tm.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = repo.Reserve(ctx, tx, userID, 10_000)
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	})

	t.Run("settle without a reservation is an inconsistency", func(t *testing.T) {
		tx, err := tm.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = repo.Settle(ctx, tx, userID, 100)
		assert.ErrorIs(t, err, ledger.ErrLedgerInconsistent)
	})
}

func TestItemAndRaidRepositories(t *testing.T) {
	db := testhelpers.NewTestDatabase(t)
	defer db.Close()

	ctx := context.Background()
	raidRepo := database.NewPostgresRaidRepository(db.Pool)
	itemRepo := database.NewPostgresItemRepository(db.Pool)
	tm := pkgdb.NewPostgresTransactionManager(db.Pool, 3*time.Second)

	leaderID := uuid.New()
	raid := seedRaid(t, raidRepo, leaderID)
	item := seedItem(t, itemRepo, raid.ID)

	t.Run("leader is recorded as participant", func(t *testing.T) {
		participants, err := raidRepo.ListParticipants(ctx, raid.ID)
		require.NoError(t, err)
		require.Len(t, participants, 1)
		assert.Equal(t, raids.RoleLeader, participants[0].Role)
	})

	t.Run("item row lock survives a status update", func(t *testing.T) {
		endsAt := time.Now().Add(time.Minute).UTC()
		inTx(t, tm, func(tx pgx.Tx) error {
			locked, err := itemRepo.GetItemByIDForUpdate(ctx, tx, item.ID)
			if err != nil {
				return err
			}
			locked.Status = auctions.ItemStatusActive
			locked.EndsAt = &endsAt
			return itemRepo.UpdateItem(ctx, tx, locked)
		})

		stored, err := itemRepo.GetItemByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, auctions.ItemStatusActive, stored.Status)
		require.NotNil(t, stored.EndsAt)
		assert.WithinDuration(t, endsAt, *stored.EndsAt, time.Second)
	})

	t.Run("active item blocks a second auction", func(t *testing.T) {
		tx, err := tm.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()

		exists, err := itemRepo.ActiveItemExists(ctx, tx, raid.ID)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("pot accumulates across settlements", func(t *testing.T) {
		inTx(t, tm, func(tx pgx.Tx) error {
			total, err := raidRepo.AddToPot(ctx, tx, raid.ID, 150)
			if err != nil {
				return err
			}
			assert.Equal(t, int64(150), total)
			return nil
		})
		inTx(t, tm, func(tx pgx.Tx) error {
			total, err := raidRepo.AddToPot(ctx, tx, raid.ID, 50)
			if err != nil {
				return err
			}
			assert.Equal(t, int64(200), total)
			return nil
		})
	})

	t.Run("window lifecycle", func(t *testing.T) {
		windowRaid := seedRaid(t, raidRepo, leaderID)
		seedItem(t, itemRepo, windowRaid.ID)
		endsAt := time.Now().Add(time.Minute).UTC()

		inTx(t, tm, func(tx pgx.Tx) error {
			if _, err := itemRepo.MarkPendingItemsPreAuction(ctx, tx, windowRaid.ID); err != nil {
				return err
			}
			stored, err := raidRepo.GetRaidByIDForUpdate(ctx, tx, windowRaid.ID)
			if err != nil {
				return err
			}
			stored.Status = raids.RaidStatusActive
			stored.PreAuctionEndsAt = &endsAt
			return raidRepo.UpdateRaid(ctx, tx, stored)
		})

		open, err := raidRepo.ListOpenWindows(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, windowRaid.ID, open[0].ID)

		inTx(t, tm, func(tx pgx.Tx) error {
			return raidRepo.ClearWindow(ctx, tx, windowRaid.ID)
		})

		open, err = raidRepo.ListOpenWindows(ctx)
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("unknown raid maps to not found", func(t *testing.T) {
		_, err := raidRepo.GetRaidByID(ctx, uuid.New())
		assert.ErrorIs(t, err, raids.ErrRaidNotFound)
	})

	t.Run("unknown item maps to not found", func(t *testing.T) {
		_, err := itemRepo.GetItemByID(ctx, uuid.New())
		assert.ErrorIs(t, err, auctions.ErrItemNotFound)
	})
}

func TestOutboxRepository(t *testing.T) {
	db := testhelpers.NewTestDatabase(t)
	defer db.Close()

	ctx := context.Background()
	repo := database.NewPostgresOutboxRepository(db.Pool)
	tm := pkgdb.NewPostgresTransactionManager(db.Pool, 3*time.Second)

	event := &events.OutboxEvent{
		ID:         uuid.New(),
		EventType:  "auction.test",
		RoutingKey: "auction.test." + uuid.NewString(),
		Payload:    []byte(`{"ok":true}`),
		Status:     events.OutboxStatusPending,
		CreatedAt:  time.Now(),
	}

	inTx(t, tm, func(tx pgx.Tx) error {
		return repo.SaveEvent(ctx, tx, event)
	})

	inTx(t, tm, func(tx pgx.Tx) error {
		pending, err := repo.GetPendingEvents(ctx, tx, 10)
		if err != nil {
			return err
		}
		require.Len(t, pending, 1)
		assert.Equal(t, event.ID, pending[0].ID)
		assert.Equal(t, event.RoutingKey, pending[0].RoutingKey)
		return repo.UpdateEventStatus(ctx, tx, event.ID, events.OutboxStatusPublished)
	})

	inTx(t, tm, func(tx pgx.Tx) error {
		pending, err := repo.GetPendingEvents(ctx, tx, 10)
		if err != nil {
			return err
		}
		assert.Empty(t, pending)
		return nil
	})
}
