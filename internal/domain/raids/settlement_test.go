package raids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeParticipants(n int) []Participant {
	out := make([]Participant, n)
	for i := range out {
		role := RoleMember
		if i == 0 {
			role = RoleLeader
		}
		out[i] = Participant{UserID: uuid.New(), Role: role}
	}
	return out
}

func TestComputeDistribution(t *testing.T) {
	tests := []struct {
		name         string
		potTotal     int64
		leaderCut    int64
		participants int
		wantLeader   int64
		wantMember   int64
	}{
		{
			name:         "even split with leader cut",
			potTotal:     1000,
			leaderCut:    10,
			participants: 4,
			// cut 100, remainder 900 splits 225 each
			wantLeader: 325,
			wantMember: 225,
		},
		{
			name:         "no leader cut",
			potTotal:     900,
			leaderCut:    0,
			participants: 3,
			wantLeader:   300,
			wantMember:   300,
		},
		{
			name:         "rounding remainder goes to leader",
			potTotal:     100,
			leaderCut:    0,
			participants: 3,
			// 33 each, 1 left over
			wantLeader: 34,
			wantMember: 33,
		},
		{
			name:         "full pot to leader",
			potTotal:     500,
			leaderCut:    100,
			participants: 5,
			wantLeader:   500,
			wantMember:   0,
		},
		{
			name:         "solo leader",
			potTotal:     777,
			leaderCut:    15,
			participants: 1,
			wantLeader:   777,
			wantMember:   0,
		},
		{
			name:         "empty pot",
			potTotal:     0,
			leaderCut:    20,
			participants: 4,
			wantLeader:   0,
			wantMember:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			participants := makeParticipants(tt.participants)
			dist, err := ComputeDistribution(tt.potTotal, tt.leaderCut, participants)
			require.NoError(t, err)

			assert.Equal(t, tt.potTotal, dist.PotTotal)
			assert.Len(t, dist.Shares, tt.participants)

			var total int64
			for _, share := range dist.Shares {
				total += share.Amount
				if share.Role == RoleLeader {
					assert.Equal(t, tt.wantLeader, share.Amount)
				} else {
					assert.Equal(t, tt.wantMember, share.Amount)
				}
			}
			assert.Equal(t, tt.potTotal, total, "shares must sum to the pot")
		})
	}
}

func TestComputeDistribution_Conservation(t *testing.T) {
	// Whatever the pot, cut and roster size, the credited total equals the pot.
	for pot := int64(0); pot <= 1000; pot += 97 {
		for cut := int64(0); cut <= 100; cut += 13 {
			for n := 1; n <= 7; n++ {
				dist, err := ComputeDistribution(pot, cut, makeParticipants(n))
				require.NoError(t, err)

				var total int64
				for _, share := range dist.Shares {
					total += share.Amount
					assert.GreaterOrEqual(t, share.Amount, int64(0))
				}
				require.Equal(t, pot, total,
					"pot=%d cut=%d participants=%d", pot, cut, n)
			}
		}
	}
}

func TestComputeDistribution_Errors(t *testing.T) {
	t.Run("no participants", func(t *testing.T) {
		_, err := ComputeDistribution(100, 10, nil)
		assert.ErrorIs(t, err, ErrNoParticipants)
	})

	t.Run("invalid cut", func(t *testing.T) {
		_, err := ComputeDistribution(100, 101, makeParticipants(2))
		assert.ErrorIs(t, err, ErrInvalidLeaderCut)

		_, err = ComputeDistribution(100, -1, makeParticipants(2))
		assert.ErrorIs(t, err, ErrInvalidLeaderCut)
	})

	t.Run("leader missing from roster", func(t *testing.T) {
		participants := []Participant{
			{UserID: uuid.New(), Role: RoleMember},
			{UserID: uuid.New(), Role: RoleMember},
		}
		_, err := ComputeDistribution(100, 10, participants)
		assert.ErrorIs(t, err, ErrLeaderNotParticipant)
	})
}
