package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
)

// PostgresBidRepository implements auctions.BidRepository using pgx
type PostgresBidRepository struct {
	pool *pgxpool.Pool // Keep pool for read-only operations
}

// NewPostgresBidRepository creates a new PostgreSQL bid repository
func NewPostgresBidRepository(pool *pgxpool.Pool) *PostgresBidRepository {
	return &PostgresBidRepository{pool: pool}
}

// SaveBid appends an accepted bid to the audit trail within a transaction
func (r *PostgresBidRepository) SaveBid(ctx context.Context, tx pgx.Tx, bid *auctions.Bid) error {
	query := `
		INSERT INTO bids (id, item_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := tx.Exec(ctx, query,
		bid.ID,
		bid.ItemID,
		bid.UserID,
		bid.Amount,
		bid.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// GetBidsByItemID retrieves all bids for an item, newest first
func (r *PostgresBidRepository) GetBidsByItemID(ctx context.Context, itemID uuid.UUID) ([]*auctions.Bid, error) {
	query := `
		SELECT id, item_id, user_id, amount, created_at
		FROM bids
		WHERE item_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var result []*auctions.Bid
	for rows.Next() {
		var bid auctions.Bid
		if err := rows.Scan(
			&bid.ID,
			&bid.ItemID,
			&bid.UserID,
			&bid.Amount,
			&bid.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		result = append(result, &bid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}

	return result, nil
}
