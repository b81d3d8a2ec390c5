package auctions

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestItem_MinimumBid(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want int64
	}{
		{
			name: "no bids yet uses starting bid",
			item: Item{StartingBid: 50, MinIncrement: 5, CurrentBid: 0},
			want: 50,
		},
		{
			name: "current bid plus increment",
			item: Item{StartingBid: 50, MinIncrement: 5, CurrentBid: 55},
			want: 60,
		},
		{
			name: "starting bid still wins when higher",
			item: Item{StartingBid: 100, MinIncrement: 5, CurrentBid: 55},
			want: 100,
		},
		{
			name: "zero starting bid",
			item: Item{StartingBid: 0, MinIncrement: 10, CurrentBid: 0},
			want: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.MinimumBid())
		})
	}
}

func TestItem_IsWinner(t *testing.T) {
	winner := uuid.New()
	other := uuid.New()

	item := Item{}
	assert.False(t, item.IsWinner(winner))

	item.WinnerID = &winner
	assert.True(t, item.IsWinner(winner))
	assert.False(t, item.IsWinner(other))
}

func TestBidTooLowError(t *testing.T) {
	err := &BidTooLowError{Minimum: 60}
	assert.ErrorIs(t, err, ErrBidTooLow)
	assert.Contains(t, err.Error(), "60")
}
