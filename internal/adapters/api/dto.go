package api

import (
	"time"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	"github.com/lootcouncil/raidpot/internal/domain/ledger"
	"github.com/lootcouncil/raidpot/internal/domain/raids"
)

type createRaidRequest struct {
	Name             string `json:"name"`
	LeaderCutPercent int64  `json:"leader_cut_percent"`
}

type importParticipantsRequest struct {
	UserIDs []string `json:"user_ids"`
}

type addItemRequest struct {
	Name         string `json:"name"`
	StartingBid  int64  `json:"starting_bid"`
	MinIncrement int64  `json:"min_increment"`
}

type lockRosterRequest struct {
	DurationSeconds int64 `json:"duration_seconds"`
}

type startAuctionRequest struct {
	DurationSeconds int64  `json:"duration_seconds"`
	MinBid          *int64 `json:"min_bid,omitempty"`
	Increment       *int64 `json:"increment,omitempty"`
}

type placeBidRequest struct {
	Amount int64 `json:"amount"`
}

type manualAwardRequest struct {
	WinnerID string `json:"winner_id"`
	Price    int64  `json:"price"`
}

type cancelRaidRequest struct {
	Reason string `json:"reason"`
}

type creditRequest struct {
	Amount int64 `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
	// Set only for rejected low bids so clients can retry without a re-read.
	MinimumBid *int64 `json:"minimum_bid,omitempty"`
}

type raidResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Status           string  `json:"status"`
	PotTotal         int64   `json:"pot_total"`
	LeaderID         string  `json:"leader_id"`
	LeaderCutPercent int64   `json:"leader_cut_percent"`
	PreAuctionEndsAt *string `json:"preauction_ends_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type participantResponse struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at"`
}

type itemResponse struct {
	ID           string  `json:"id"`
	RaidID       string  `json:"raid_id"`
	Name         string  `json:"name"`
	StartingBid  int64   `json:"starting_bid"`
	MinIncrement int64   `json:"min_increment"`
	Status       string  `json:"status"`
	PreAuction   bool    `json:"pre_auction"`
	CurrentBid   int64   `json:"current_bid"`
	MinimumBid   int64   `json:"minimum_bid"`
	WinnerID     *string `json:"winner_id,omitempty"`
	EndsAt       *string `json:"ends_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type bidResponse struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	CreatedAt string `json:"created_at"`
}

type placeBidResponse struct {
	Bid      bidResponse  `json:"bid"`
	Item     itemResponse `json:"item"`
	Extended bool         `json:"extended"`
}

type raidSnapshotResponse struct {
	Raid         raidResponse          `json:"raid"`
	Participants []participantResponse `json:"participants"`
	Items        []itemResponse        `json:"items"`
}

type walletResponse struct {
	UserID       string `json:"user_id"`
	Balance      int64  `json:"balance"`
	LockedAmount int64  `json:"locked_amount"`
	Available    int64  `json:"available"`
}

func mapRaid(r *raids.Raid) raidResponse {
	resp := raidResponse{
		ID:               r.ID.String(),
		Name:             r.Name,
		Status:           string(r.Status),
		PotTotal:         r.PotTotal,
		LeaderID:         r.LeaderID.String(),
		LeaderCutPercent: r.LeaderCutPercent,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
	if r.PreAuctionEndsAt != nil {
		s := r.PreAuctionEndsAt.Format(time.RFC3339)
		resp.PreAuctionEndsAt = &s
	}
	return resp
}

func mapParticipant(p raids.Participant) participantResponse {
	return participantResponse{
		UserID:   p.UserID.String(),
		Role:     string(p.Role),
		JoinedAt: p.JoinedAt.Format(time.RFC3339),
	}
}

func mapItem(i *auctions.Item) itemResponse {
	resp := itemResponse{
		ID:           i.ID.String(),
		RaidID:       i.RaidID.String(),
		Name:         i.Name,
		StartingBid:  i.StartingBid,
		MinIncrement: i.MinIncrement,
		Status:       string(i.Status),
		PreAuction:   i.PreAuction,
		CurrentBid:   i.CurrentBid,
		MinimumBid:   i.MinimumBid(),
		CreatedAt:    i.CreatedAt.Format(time.RFC3339),
	}
	if i.WinnerID != nil {
		s := i.WinnerID.String()
		resp.WinnerID = &s
	}
	if i.EndsAt != nil {
		s := i.EndsAt.Format(time.RFC3339)
		resp.EndsAt = &s
	}
	return resp
}

func mapItems(items []*auctions.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, item := range items {
		out[i] = mapItem(item)
	}
	return out
}

func mapBid(b *auctions.Bid) bidResponse {
	return bidResponse{
		ID:        b.ID.String(),
		ItemID:    b.ItemID.String(),
		UserID:    b.UserID.String(),
		Amount:    b.Amount,
		CreatedAt: b.CreatedAt.Format(time.RFC3339),
	}
}

func mapWallet(w *ledger.Wallet) walletResponse {
	return walletResponse{
		UserID:       w.UserID.String(),
		Balance:      w.Balance,
		LockedAmount: w.LockedAmount,
		Available:    w.Available(),
	}
}
