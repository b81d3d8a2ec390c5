package raids

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for raid persistence
type Repository interface {
	// CreateRaid inserts the raid and its leader participant atomically
	CreateRaid(ctx context.Context, raid *Raid) error

	// GetRaidByID retrieves a raid by its ID
	GetRaidByID(ctx context.Context, raidID uuid.UUID) (*Raid, error)

	// GetRaidByIDForUpdate retrieves a raid and locks its row. Whole-raid
	// transitions (roster lock, distribute, cancel) run behind this lock.
	GetRaidByIDForUpdate(ctx context.Context, tx pgx.Tx, raidID uuid.UUID) (*Raid, error)

	// UpdateRaid persists the raid's mutable state
	// (status, pot_total, preauction_ends_at)
	UpdateRaid(ctx context.Context, tx pgx.Tx, raid *Raid) error

	// AddParticipants upserts participants, ignoring users already present
	AddParticipants(ctx context.Context, raidID uuid.UUID, participants []Participant) error

	// ListParticipants returns all participants of a raid
	ListParticipants(ctx context.Context, raidID uuid.UUID) ([]Participant, error)

	// ListOpenWindows returns raids whose pre-auction window is still set,
	// used to restore countdowns after a restart
	ListOpenWindows(ctx context.Context) ([]*Raid, error)
}
