package auctions

import (
	"errors"
	"fmt"
)

// Rejection errors. These are returned to the caller as typed reason codes,
// never propagated into broadcast logic.
var (
	ErrItemNotFound          = errors.New("item not found")
	ErrAuctionNotActive      = errors.New("auction is not active")
	ErrAuctionEnded          = errors.New("auction has ended")
	ErrInvalidBidAmount      = errors.New("bid amount must be a positive integer")
	ErrBidTooLow             = errors.New("bid amount below minimum")
	ErrAlreadyWinning        = errors.New("bidder already holds the leading bid")
	ErrItemNotPending        = errors.New("item is not pending")
	ErrAuctionAlreadyActive  = errors.New("another auction is already active in this raid")
	ErrInvalidDuration       = errors.New("auction duration must be positive")
	ErrInvalidStartingBid    = errors.New("starting bid must not be negative")
	ErrInvalidIncrement      = errors.New("minimum increment must be positive")
	ErrItemNotClaimable      = errors.New("item is not awaiting claim")
	ErrItemHasNoWinner       = errors.New("item has no recorded winner")
	ErrRaidClosed            = errors.New("raid is completed or cancelled")
	ErrManualAwardNotAllowed = errors.New("item can only be awarded while pending or active")
)

// BidTooLowError carries the minimum acceptable amount so the client can
// render an actionable message. Matches errors.Is(err, ErrBidTooLow).
type BidTooLowError struct {
	Minimum int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid amount below minimum: need at least %d", e.Minimum)
}

func (e *BidTooLowError) Unwrap() error {
	return ErrBidTooLow
}
