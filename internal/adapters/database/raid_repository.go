package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	"github.com/lootcouncil/raidpot/internal/domain/raids"
	pkgdb "github.com/lootcouncil/raidpot/pkg/database"
)

// PostgresRaidRepository implements raids.Repository and the narrow
// auctions.RaidStore view on top of the same table.
type PostgresRaidRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRaidRepository creates a new PostgreSQL raid repository
func NewPostgresRaidRepository(pool *pgxpool.Pool) *PostgresRaidRepository {
	return &PostgresRaidRepository{pool: pool}
}

const raidColumns = "id, name, status, pot_total, leader_id, leader_cut_percent, preauction_ends_at, created_at, updated_at"

// CreateRaid inserts the raid and its leader participant atomically
func (r *PostgresRaidRepository) CreateRaid(ctx context.Context, raid *raids.Raid) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO raids (id, name, status, pot_total, leader_id, leader_cut_percent, preauction_ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		raid.ID,
		raid.Name,
		raid.Status,
		raid.PotTotal,
		raid.LeaderID,
		raid.LeaderCutPercent,
		raid.PreAuctionEndsAt,
		raid.CreatedAt,
		raid.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert raid: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO raid_participants (raid_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, raid.ID, raid.LeaderID, raids.RoleLeader, raid.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert leader participant: %w", err)
	}

	return tx.Commit(ctx)
}

// GetRaidByID retrieves a raid by its ID (non-transactional read)
func (r *PostgresRaidRepository) GetRaidByID(ctx context.Context, raidID uuid.UUID) (*raids.Raid, error) {
	return r.getRaidByID(ctx, r.pool, raidID, false)
}

// GetRaidByIDForUpdate retrieves a raid and locks its row
func (r *PostgresRaidRepository) GetRaidByIDForUpdate(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*raids.Raid, error) {
	return r.getRaidByID(ctx, tx, raidID, true)
}

func (r *PostgresRaidRepository) getRaidByID(ctx context.Context, db pkgdb.DBTX, raidID uuid.UUID, forUpdate bool) (*raids.Raid, error) {
	query := `SELECT ` + raidColumns + ` FROM raids WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var raid raids.Raid
	err := db.QueryRow(ctx, query, raidID).Scan(
		&raid.ID,
		&raid.Name,
		&raid.Status,
		&raid.PotTotal,
		&raid.LeaderID,
		&raid.LeaderCutPercent,
		&raid.PreAuctionEndsAt,
		&raid.CreatedAt,
		&raid.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, raids.ErrRaidNotFound
		}
		return nil, fmt.Errorf("failed to get raid: %w", err)
	}
	return &raid, nil
}

// UpdateRaid persists the raid's mutable state
func (r *PostgresRaidRepository) UpdateRaid(ctx context.Context, tx pgx.Tx, raid *raids.Raid) error {
	result, err := tx.Exec(ctx, `
		UPDATE raids
		SET status = $2, pot_total = $3, preauction_ends_at = $4, updated_at = NOW()
		WHERE id = $1
	`, raid.ID, raid.Status, raid.PotTotal, raid.PreAuctionEndsAt)
	if err != nil {
		return fmt.Errorf("failed to update raid: %w", err)
	}
	if result.RowsAffected() == 0 {
		return raids.ErrRaidNotFound
	}
	return nil
}

// AddParticipants upserts participants, ignoring users already present
func (r *PostgresRaidRepository) AddParticipants(ctx context.Context, raidID uuid.UUID, participants []raids.Participant) error {
	for _, p := range participants {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO raid_participants (raid_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (raid_id, user_id) DO NOTHING
		`, raidID, p.UserID, p.Role, p.JoinedAt)
		if err != nil {
			return fmt.Errorf("failed to insert participant %s: %w", p.UserID, err)
		}
	}
	return nil
}

// ListParticipants returns all participants of a raid
func (r *PostgresRaidRepository) ListParticipants(ctx context.Context, raidID uuid.UUID) ([]raids.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT raid_id, user_id, role, joined_at
		FROM raid_participants
		WHERE raid_id = $1
		ORDER BY joined_at ASC, user_id ASC
	`, raidID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var result []raids.Participant
	for rows.Next() {
		var p raids.Participant
		if err := rows.Scan(&p.RaidID, &p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return result, nil
}

// ListOpenWindows returns raids whose pre-auction window is still set
func (r *PostgresRaidRepository) ListOpenWindows(ctx context.Context) ([]*raids.Raid, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+raidColumns+` FROM raids WHERE preauction_ends_at IS NOT NULL AND status = $1`,
		raids.RaidStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query open windows: %w", err)
	}
	defer rows.Close()

	var result []*raids.Raid
	for rows.Next() {
		var raid raids.Raid
		if err := rows.Scan(
			&raid.ID,
			&raid.Name,
			&raid.Status,
			&raid.PotTotal,
			&raid.LeaderID,
			&raid.LeaderCutPercent,
			&raid.PreAuctionEndsAt,
			&raid.CreatedAt,
			&raid.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan raid: %w", err)
		}
		result = append(result, &raid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raids: %w", err)
	}
	return result, nil
}

// LockRaid implements auctions.RaidStore: takes the raid row lock and returns
// the pre-auction window view
func (r *PostgresRaidRepository) LockRaid(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*auctions.RaidWindow, error) {
	raid, err := r.GetRaidByIDForUpdate(ctx, tx, raidID)
	if err != nil {
		return nil, err
	}
	if raid.Status == raids.RaidStatusCompleted || raid.Status == raids.RaidStatusCancelled {
		return nil, auctions.ErrRaidClosed
	}
	return &auctions.RaidWindow{RaidID: raid.ID, PreAuctionEndsAt: raid.PreAuctionEndsAt}, nil
}

// GetWindow reads the raid's pre-auction deadline without locking
func (r *PostgresRaidRepository) GetWindow(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*auctions.RaidWindow, error) {
	var endsAt *time.Time
	err := tx.QueryRow(ctx,
		`SELECT preauction_ends_at FROM raids WHERE id = $1`, raidID).Scan(&endsAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, raids.ErrRaidNotFound
		}
		return nil, fmt.Errorf("failed to get pre-auction window: %w", err)
	}
	return &auctions.RaidWindow{RaidID: raidID, PreAuctionEndsAt: endsAt}, nil
}

// ActivateRaid transitions a pending raid to active
func (r *PostgresRaidRepository) ActivateRaid(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE raids SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, raidID, raids.RaidStatusActive, raids.RaidStatusPending)
	if err != nil {
		return fmt.Errorf("failed to activate raid: %w", err)
	}
	return nil
}

// AddToPot adds a completed sale amount to the raid pot
func (r *PostgresRaidRepository) AddToPot(ctx context.Context, tx pgx.Tx, raidID uuid.UUID, amount int64) (int64, error) {
	var potTotal int64
	err := tx.QueryRow(ctx, `
		UPDATE raids SET pot_total = pot_total + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING pot_total
	`, raidID, amount).Scan(&potTotal)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, raids.ErrRaidNotFound
		}
		return 0, fmt.Errorf("failed to add to pot: %w", err)
	}
	return potTotal, nil
}

// ClearWindow clears the raid's pre-auction deadline
func (r *PostgresRaidRepository) ClearWindow(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE raids SET preauction_ends_at = NULL, updated_at = NOW() WHERE id = $1`, raidID)
	if err != nil {
		return fmt.Errorf("failed to clear pre-auction window: %w", err)
	}
	return nil
}
