package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lootcouncil/raidpot/internal/domain/auctions"
	"github.com/lootcouncil/raidpot/internal/domain/ledger"
	"github.com/lootcouncil/raidpot/internal/domain/raids"
	"github.com/lootcouncil/raidpot/pkg/auth"
)

// PermissionWalletCredit gates the admin credit endpoint.
const PermissionWalletCredit = "wallet:credit"

// CountdownReader serves the last cached countdown tick for an item.
type CountdownReader interface {
	GetSnapshot(ctx context.Context, raidID, key string) (*auctions.Tick, error)
}

// Handler exposes the raid, auction and wallet operations over HTTP.
type Handler struct {
	auctionService *auctions.Service
	raidService    *raids.Service
	ledgerService  *ledger.Service
	countdowns     CountdownReader
	signer         *auth.Signer
	logger         *slog.Logger
}

func NewHandler(
	auctionService *auctions.Service,
	raidService *raids.Service,
	ledgerService *ledger.Service,
	countdowns CountdownReader,
	signer *auth.Signer,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		auctionService: auctionService,
		raidService:    raidService,
		ledgerService:  ledgerService,
		countdowns:     countdowns,
		signer:         signer,
		logger:         logger,
	}
}

// Routes builds the router. Everything under /api/v1 requires a valid token.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(h.signer))

		r.Route("/raids", func(r chi.Router) {
			r.Post("/", h.createRaid)
			r.Route("/{raidID}", func(r chi.Router) {
				r.Get("/", h.getRaid)
				r.Post("/participants", h.importParticipants)
				r.Post("/items", h.addItem)
				r.Post("/lock", h.lockRoster)
				r.Get("/distribution", h.previewDistribution)
				r.Post("/distribute", h.distribute)
				r.Post("/cancel", h.cancelRaid)
			})
		})

		r.Route("/items/{itemID}", func(r chi.Router) {
			r.Get("/", h.getItem)
			r.Delete("/", h.deleteItem)
			r.Post("/start", h.startAuction)
			r.Post("/bids", h.placeBid)
			r.Get("/bids", h.listBids)
			r.Get("/countdown", h.getCountdown)
			r.Post("/award", h.manualAward)
			r.Post("/claim", h.claimItem)
		})

		r.Get("/wallet", h.getWallet)
		r.Post("/wallet/{userID}/credit", h.creditWallet)
	})

	return r
}

func (h *Handler) createRaid(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req createRaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	raid, err := h.raidService.CreateRaid(r.Context(), raids.CreateRaidCommand{
		Name:             req.Name,
		LeaderID:         callerID,
		LeaderCutPercent: req.LeaderCutPercent,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, mapRaid(raid))
}

func (h *Handler) getRaid(w http.ResponseWriter, r *http.Request) {
	raidID, ok := h.pathUUID(w, r, "raidID")
	if !ok {
		return
	}

	raid, err := h.raidService.GetRaid(r.Context(), raidID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	participants, err := h.raidService.ListParticipants(r.Context(), raidID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	items, err := h.auctionService.ListRaidItems(r.Context(), raidID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	resp := raidSnapshotResponse{
		Raid:         mapRaid(raid),
		Participants: make([]participantResponse, len(participants)),
		Items:        mapItems(items),
	}
	for i, p := range participants {
		resp.Participants[i] = mapParticipant(p)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) importParticipants(w http.ResponseWriter, r *http.Request) {
	raidID, ok := h.requireLeader(w, r)
	if !ok {
		return
	}

	var req importParticipantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.UserIDs) == 0 {
		h.respondError(w, http.StatusBadRequest, "user_ids must not be empty")
		return
	}

	userIDs := make([]uuid.UUID, len(req.UserIDs))
	for i, raw := range req.UserIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid user id: "+raw)
			return
		}
		userIDs[i] = id
	}

	if err := h.raidService.ImportParticipants(r.Context(), raidID, userIDs); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	raidID, ok := h.requireLeader(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.auctionService.AddItem(r.Context(), auctions.AddItemCommand{
		RaidID:       raidID,
		Name:         req.Name,
		StartingBid:  req.StartingBid,
		MinIncrement: req.MinIncrement,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, mapItem(item))
}

func (h *Handler) lockRoster(w http.ResponseWriter, r *http.Request) {
	raidID, ok := h.requireLeader(w, r)
	if !ok {
		return
	}

	var req lockRosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	raid, err := h.raidService.LockRoster(r.Context(), raidID, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapRaid(raid))
}

func (h *Handler) previewDistribution(w http.ResponseWriter, r *http.Request) {
	raidID, ok := h.pathUUID(w, r, "raidID")
	if !ok {
		return
	}

	dist, err := h.raidService.PreviewDistribution(r.Context(), raidID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dist)
}

func (h *Handler) distribute(w http.ResponseWriter, r *http.Request) {
	raidID, ok := h.requireLeader(w, r)
	if !ok {
		return
	}

	dist, err := h.raidService.Distribute(r.Context(), raidID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, dist)
}

func (h *Handler) cancelRaid(w http.ResponseWriter, r *http.Request) {
	raidID, ok := h.requireLeader(w, r)
	if !ok {
		return
	}

	var req cancelRaidRequest
	if r.Body != nil {
		// Reason is optional; an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.raidService.Cancel(r.Context(), raidID, req.Reason); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathUUID(w, r, "itemID")
	if !ok {
		return
	}

	item, err := h.auctionService.GetItem(r.Context(), itemID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapItem(item))
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	itemID, _, ok := h.requireItemLeader(w, r)
	if !ok {
		return
	}

	if err := h.auctionService.DeleteItem(r.Context(), itemID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startAuction(w http.ResponseWriter, r *http.Request) {
	itemID, _, ok := h.requireItemLeader(w, r)
	if !ok {
		return
	}

	var req startAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.auctionService.StartAuction(r.Context(), auctions.StartAuctionCommand{
		ItemID:    itemID,
		Duration:  time.Duration(req.DurationSeconds) * time.Second,
		MinBid:    req.MinBid,
		Increment: req.Increment,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapItem(item))
}

func (h *Handler) placeBid(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	itemID, ok := h.pathUUID(w, r, "itemID")
	if !ok {
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.auctionService.PlaceBid(r.Context(), auctions.PlaceBidCommand{
		ItemID: itemID,
		UserID: callerID,
		Amount: req.Amount,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, placeBidResponse{
		Bid:      mapBid(result.Bid),
		Item:     mapItem(result.Item),
		Extended: result.Extended,
	})
}

func (h *Handler) listBids(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathUUID(w, r, "itemID")
	if !ok {
		return
	}

	bids, err := h.auctionService.ListBids(r.Context(), itemID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	resp := make([]bidResponse, len(bids))
	for i, b := range bids {
		resp[i] = mapBid(b)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) getCountdown(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.pathUUID(w, r, "itemID")
	if !ok {
		return
	}
	if h.countdowns == nil {
		h.respondError(w, http.StatusNotFound, "no live countdown")
		return
	}

	item, err := h.auctionService.GetItem(r.Context(), itemID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	key := item.ID.String()
	if item.PreAuction {
		// Pre-auction items share the raid-wide window countdown.
		key = item.RaidID.String()
	}
	tick, err := h.countdowns.GetSnapshot(r.Context(), item.RaidID.String(), key)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	if tick == nil {
		h.respondError(w, http.StatusNotFound, "no live countdown")
		return
	}
	h.respondJSON(w, http.StatusOK, tick)
}

func (h *Handler) manualAward(w http.ResponseWriter, r *http.Request) {
	itemID, _, ok := h.requireItemLeader(w, r)
	if !ok {
		return
	}

	var req manualAwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	winnerID, err := uuid.Parse(req.WinnerID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid winner_id")
		return
	}

	item, err := h.auctionService.ManualAward(r.Context(), auctions.ManualAwardCommand{
		ItemID:   itemID,
		WinnerID: winnerID,
		Price:    req.Price,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapItem(item))
}

func (h *Handler) claimItem(w http.ResponseWriter, r *http.Request) {
	itemID, _, ok := h.requireItemLeader(w, r)
	if !ok {
		return
	}

	item, err := h.auctionService.Claim(r.Context(), itemID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapItem(item))
}

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	wallet, err := h.ledgerService.GetWallet(r.Context(), callerID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapWallet(wallet))
}

func (h *Handler) creditWallet(w http.ResponseWriter, r *http.Request) {
	if !auth.HasPermission(r.Context(), PermissionWalletCredit) {
		h.respondError(w, http.StatusForbidden, "missing permission: "+PermissionWalletCredit)
		return
	}
	userID, ok := h.pathUUID(w, r, "userID")
	if !ok {
		return
	}

	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wallet, err := h.ledgerService.Credit(r.Context(), userID, req.Amount)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, mapWallet(wallet))
}

func (h *Handler) callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(auth.MustGetUserID(r.Context()))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "invalid user id in token")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// requireLeader resolves the raid from the path and checks the caller leads it.
func (h *Handler) requireLeader(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raidID, ok := h.pathUUID(w, r, "raidID")
	if !ok {
		return uuid.Nil, false
	}
	callerID, ok := h.callerID(w, r)
	if !ok {
		return uuid.Nil, false
	}

	isLeader, err := h.raidService.IsLeader(r.Context(), raidID, callerID)
	if err != nil {
		h.respondDomainError(w, err)
		return uuid.Nil, false
	}
	if !isLeader {
		h.respondDomainError(w, raids.ErrNotLeader)
		return uuid.Nil, false
	}
	return raidID, true
}

// requireItemLeader resolves the item from the path and checks the caller
// leads the raid it belongs to.
func (h *Handler) requireItemLeader(w http.ResponseWriter, r *http.Request) (uuid.UUID, *auctions.Item, bool) {
	itemID, ok := h.pathUUID(w, r, "itemID")
	if !ok {
		return uuid.Nil, nil, false
	}
	callerID, ok := h.callerID(w, r)
	if !ok {
		return uuid.Nil, nil, false
	}

	item, err := h.auctionService.GetItem(r.Context(), itemID)
	if err != nil {
		h.respondDomainError(w, err)
		return uuid.Nil, nil, false
	}
	isLeader, err := h.raidService.IsLeader(r.Context(), item.RaidID, callerID)
	if err != nil {
		h.respondDomainError(w, err)
		return uuid.Nil, nil, false
	}
	if !isLeader {
		h.respondDomainError(w, raids.ErrNotLeader)
		return uuid.Nil, nil, false
	}
	return itemID, item, true
}

// respondDomainError translates domain sentinels into HTTP statuses.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	var tooLow *auctions.BidTooLowError
	if errors.As(err, &tooLow) {
		h.respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:      tooLow.Error(),
			MinimumBid: &tooLow.Minimum,
		})
		return
	}

	var status int
	switch {
	case errors.Is(err, auctions.ErrItemNotFound),
		errors.Is(err, raids.ErrRaidNotFound),
		errors.Is(err, ledger.ErrWalletNotFound):
		status = http.StatusNotFound
	case errors.Is(err, raids.ErrNotLeader):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, auctions.ErrInvalidBidAmount),
		errors.Is(err, auctions.ErrInvalidDuration),
		errors.Is(err, auctions.ErrInvalidStartingBid),
		errors.Is(err, auctions.ErrInvalidIncrement),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, raids.ErrInvalidWindow),
		errors.Is(err, raids.ErrInvalidLeaderCut):
		status = http.StatusBadRequest
	case errors.Is(err, auctions.ErrAuctionNotActive),
		errors.Is(err, auctions.ErrAuctionEnded),
		errors.Is(err, auctions.ErrAlreadyWinning),
		errors.Is(err, auctions.ErrItemNotPending),
		errors.Is(err, auctions.ErrAuctionAlreadyActive),
		errors.Is(err, auctions.ErrItemNotClaimable),
		errors.Is(err, auctions.ErrItemHasNoWinner),
		errors.Is(err, auctions.ErrManualAwardNotAllowed),
		errors.Is(err, auctions.ErrRaidClosed),
		errors.Is(err, raids.ErrRaidClosed),
		errors.Is(err, raids.ErrHasActiveAuctions),
		errors.Is(err, raids.ErrEmptyPot),
		errors.Is(err, raids.ErrWindowAlreadyOpen):
		status = http.StatusConflict
	default:
		h.logger.Error("unhandled domain error", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.respondError(w, status, err.Error())
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, errorResponse{Error: msg})
}
