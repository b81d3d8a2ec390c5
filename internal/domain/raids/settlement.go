package raids

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNoParticipants       = errors.New("raid has no participants")
	ErrLeaderNotParticipant = errors.New("raid leader is not a participant")
	ErrInvalidLeaderCut     = errors.New("leader cut percent must be between 0 and 100")
)

// Share is one participant's computed payout
type Share struct {
	UserID  uuid.UUID `json:"user_id"`
	Role    Role      `json:"role"`
	Amount  int64     `json:"amount"`
	Percent float64   `json:"percent"`
}

// Distribution is the full payout plan for a raid's pot
type Distribution struct {
	PotTotal        int64   `json:"pot_total"`
	LeaderCutAmount int64   `json:"leader_cut_amount"`
	Shares          []Share `json:"shares"`
}

// ComputeDistribution is the pure settlement computation. The leader's cut is
// floor(pot * percent / 100); the remainder splits equally across all
// participants including the leader. The integer-division remainder goes to
// the leader so the credited total always equals the pot exactly.
func ComputeDistribution(potTotal, leaderCutPercent int64, participants []Participant) (*Distribution, error) {
	if leaderCutPercent < 0 || leaderCutPercent > 100 {
		return nil, ErrInvalidLeaderCut
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	leaderIdx := -1
	for i, p := range participants {
		if p.Role == RoleLeader {
			leaderIdx = i
			break
		}
	}
	if leaderIdx < 0 {
		return nil, ErrLeaderNotParticipant
	}

	leaderCut := potTotal * leaderCutPercent / 100
	remainder := potTotal - leaderCut
	n := int64(len(participants))
	equalShare := remainder / n
	roundingLoss := remainder - equalShare*n

	dist := &Distribution{
		PotTotal:        potTotal,
		LeaderCutAmount: leaderCut,
		Shares:          make([]Share, len(participants)),
	}

	for i, p := range participants {
		amount := equalShare
		if i == leaderIdx {
			amount += leaderCut + roundingLoss
		}
		share := Share{
			UserID: p.UserID,
			Role:   p.Role,
			Amount: amount,
		}
		if potTotal > 0 {
			share.Percent = float64(amount) / float64(potTotal) * 100
		}
		dist.Shares[i] = share
	}

	return dist, nil
}
