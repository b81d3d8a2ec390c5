package raids

import (
	"time"

	"github.com/google/uuid"
)

// RaidStatus represents the lifecycle state of a raid
type RaidStatus string

const (
	RaidStatusPending   RaidStatus = "pending"
	RaidStatusActive    RaidStatus = "active"
	RaidStatusCompleted RaidStatus = "completed"
	RaidStatusCancelled RaidStatus = "cancelled"
)

// Role of a raid participant
type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

// Raid groups the items being auctioned, the participants splitting the pot,
// and the accumulated proceeds. PotTotal changes only through item completion
// and cancellation.
type Raid struct {
	ID               uuid.UUID  `db:"id"`
	Name             string     `db:"name"`
	Status           RaidStatus `db:"status"`
	PotTotal         int64      `db:"pot_total"`
	LeaderID         uuid.UUID  `db:"leader_id"`
	LeaderCutPercent int64      `db:"leader_cut_percent"`
	PreAuctionEndsAt *time.Time `db:"preauction_ends_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// Participant is a raid member entitled to a share of the pot
type Participant struct {
	RaidID   uuid.UUID `db:"raid_id"`
	UserID   uuid.UUID `db:"user_id"`
	Role     Role      `db:"role"`
	JoinedAt time.Time `db:"joined_at"`
}
