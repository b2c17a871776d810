package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mcdev12/primegavel/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StateProvider interface defines methods for retrieving auction state and catalog listings
type StateProvider interface {
	GetAuctionState(ctx context.Context, auctionID string) (*AuctionStateResponse, error)
	GetActiveAuctions(ctx context.Context) ([]AuctionSummary, error)
	ListOpenLots(ctx context.Context) ([]*models.Lot, error)
	ListLots(ctx context.Context) ([]*models.Lot, error)
	ListHistory(ctx context.Context, identity string) ([]models.HistoryEntry, error)
}

// AuctionStateResponse is the live state of one auction, used to resync a reconnecting client
type AuctionStateResponse struct {
	AuctionID     string    `json:"auction_id"`
	State         string    `json:"state"`
	TimeLeft      int       `json:"timeLeft"`
	CurrentBid    int64     `json:"currentBid"`
	HighestBidder *string   `json:"highestBidder"`
	Increment     int64     `json:"increment"`
	Ended         bool      `json:"ended"`
	StartingBid   int64     `json:"starting_bid"`
	BidCount      int       `json:"bid_count"`
	Participants  int       `json:"participants"`
	StartedAt     time.Time `json:"started_at"`
}

// AuctionSummary represents a summary of a live auction
type AuctionSummary struct {
	AuctionID    string     `json:"auction_id"`
	State        string     `json:"state"`
	CurrentBid   int64      `json:"current_bid"`
	TimeLeft     int        `json:"time_left"`
	Participants int        `json:"participants"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
}

// StateHandler handles HTTP requests for auction state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetAuctionState handles GET /api/auctions/{id}/state
func (h *StateHandler) HandleGetAuctionState(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("id")
	if auctionID == "" {
		http.Error(w, "Auction ID is required", http.StatusBadRequest)
		return
	}

	state, err := h.stateProvider.GetAuctionState(r.Context(), auctionID)
	if errors.Is(err, ErrAuctionNotLive) {
		http.Error(w, "Auction is not live", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to get auction state")
		http.Error(w, "Failed to get auction state", http.StatusInternalServerError)
		return
	}

	writeJSON(w, state)
}

// HandleGetActiveAuctions handles GET /api/auctions/active
func (h *StateHandler) HandleGetActiveAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.stateProvider.GetActiveAuctions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get active auctions")
		http.Error(w, "Failed to get active auctions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, auctions)
}

// HandleListLots handles GET /api/lots. Only lots without a winner are listed
// unless all=true is given.
func (h *StateHandler) HandleListLots(w http.ResponseWriter, r *http.Request) {
	var (
		lots []*models.Lot
		err  error
	)
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		lots, err = h.stateProvider.ListLots(r.Context())
	} else {
		lots, err = h.stateProvider.ListOpenLots(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to list lots")
		http.Error(w, "Failed to list lots", http.StatusInternalServerError)
		return
	}
	writeJSON(w, lots)
}

// HandleListHistory handles GET /api/traders/{identity}/history
func (h *StateHandler) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if identity == "" {
		http.Error(w, "Trader identity is required", http.StatusBadRequest)
		return
	}

	history, err := h.stateProvider.ListHistory(r.Context(), identity)
	if err != nil {
		log.Error().Err(err).Str("identity", identity).Msg("failed to list trader history")
		http.Error(w, "Failed to list history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, history)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/auctions/active", h.HandleGetActiveAuctions)
	mux.HandleFunc("GET /api/auctions/{id}/state", h.HandleGetAuctionState)
	mux.HandleFunc("GET /api/lots", h.HandleListLots)
	mux.HandleFunc("GET /api/traders/{identity}/history", h.HandleListHistory)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
