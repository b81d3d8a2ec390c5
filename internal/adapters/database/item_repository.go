package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	pkgdb "github.com/lootcouncil/raidpot/pkg/database"
)

// PostgresItemRepository implements auctions.ItemRepository using pgx
type PostgresItemRepository struct {
	pool *pgxpool.Pool // Keep pool for non-transactional reads
}

// NewPostgresItemRepository creates a new PostgreSQL item repository
func NewPostgresItemRepository(pool *pgxpool.Pool) *PostgresItemRepository {
	return &PostgresItemRepository{pool: pool}
}

const itemColumns = "id, raid_id, name, starting_bid, min_increment, status, pre_auction, current_bid, winner_id, ends_at, created_at, updated_at"

// CreateItem creates a new pending item
func (r *PostgresItemRepository) CreateItem(ctx context.Context, item *auctions.Item) error {
	query := `
		INSERT INTO items (id, raid_id, name, starting_bid, min_increment, status, pre_auction, current_bid, winner_id, ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		item.ID,
		item.RaidID,
		item.Name,
		item.StartingBid,
		item.MinIncrement,
		item.Status,
		item.PreAuction,
		item.CurrentBid,
		item.WinnerID,
		item.EndsAt,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// GetItemByID retrieves an item by its ID (non-transactional read)
func (r *PostgresItemRepository) GetItemByID(ctx context.Context, itemID uuid.UUID) (*auctions.Item, error) {
	return r.getItemByID(ctx, r.pool, itemID, false)
}

// GetItemByIDForUpdate retrieves an item by its ID and locks its row.
// This is the per-item serialization point for bids, awards and expiry.
func (r *PostgresItemRepository) GetItemByIDForUpdate(ctx context.Context, tx pgx.Tx, itemID uuid.UUID) (*auctions.Item, error) {
	return r.getItemByID(ctx, tx, itemID, true)
}

func (r *PostgresItemRepository) getItemByID(ctx context.Context, db pkgdb.DBTX, itemID uuid.UUID, forUpdate bool) (*auctions.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	item, err := scanItem(db.QueryRow(ctx, query, itemID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, auctions.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

// UpdateItem persists the item's mutable auction state
func (r *PostgresItemRepository) UpdateItem(ctx context.Context, tx pgx.Tx, item *auctions.Item) error {
	query := `
		UPDATE items
		SET starting_bid = $2, min_increment = $3, status = $4, pre_auction = $5,
		    current_bid = $6, winner_id = $7, ends_at = $8, updated_at = NOW()
		WHERE id = $1
	`
	result, err := tx.Exec(ctx, query,
		item.ID,
		item.StartingBid,
		item.MinIncrement,
		item.Status,
		item.PreAuction,
		item.CurrentBid,
		item.WinnerID,
		item.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return auctions.ErrItemNotFound
	}
	return nil
}

// DeleteItemPending deletes an item only while it is still pending
func (r *PostgresItemRepository) DeleteItemPending(ctx context.Context, itemID uuid.UUID) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM items WHERE id = $1 AND status = $2`, itemID, auctions.ItemStatusPending)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check item: %w", err)
	}
	if exists {
		return auctions.ErrItemNotPending
	}
	return auctions.ErrItemNotFound
}

// ActiveItemExists reports whether any item in the raid is currently active
func (r *PostgresItemRepository) ActiveItemExists(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM items WHERE raid_id = $1 AND status = $2)`,
		raidID, auctions.ItemStatusActive).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active items: %w", err)
	}
	return exists, nil
}

// ListItemsByRaid retrieves all items belonging to a raid
func (r *PostgresItemRepository) ListItemsByRaid(ctx context.Context, raidID uuid.UUID) ([]*auctions.Item, error) {
	return r.listItemsByRaid(ctx, r.pool, raidID, false)
}

// ListItemsByRaidForUpdate retrieves and locks all items belonging to a raid
func (r *PostgresItemRepository) ListItemsByRaidForUpdate(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) ([]*auctions.Item, error) {
	return r.listItemsByRaid(ctx, tx, raidID, true)
}

func (r *PostgresItemRepository) listItemsByRaid(ctx context.Context, db pkgdb.DBTX, raidID uuid.UUID, forUpdate bool) ([]*auctions.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE raid_id = $1 ORDER BY created_at ASC`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := db.Query(ctx, query, raidID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// MarkPendingItemsPreAuction flips every pending item of the raid into an
// active pre-auction item
func (r *PostgresItemRepository) MarkPendingItemsPreAuction(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (int64, error) {
	result, err := tx.Exec(ctx, `
		UPDATE items
		SET status = $2, pre_auction = TRUE, current_bid = 0, winner_id = NULL, ends_at = NULL, updated_at = NOW()
		WHERE raid_id = $1 AND status = $3
	`, raidID, auctions.ItemStatusActive, auctions.ItemStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to open items for pre-auction: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListActiveAuctions returns all active timed items for countdown restore
func (r *PostgresItemRepository) ListActiveAuctions(ctx context.Context) ([]*auctions.Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE status = $1 AND pre_auction = FALSE`,
		auctions.ItemStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active auctions: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func scanItem(row pgx.Row) (*auctions.Item, error) {
	var item auctions.Item
	err := row.Scan(
		&item.ID,
		&item.RaidID,
		&item.Name,
		&item.StartingBid,
		&item.MinIncrement,
		&item.Status,
		&item.PreAuction,
		&item.CurrentBid,
		&item.WinnerID,
		&item.EndsAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanItems(rows pgx.Rows) ([]*auctions.Item, error) {
	var result []*auctions.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return result, nil
}
