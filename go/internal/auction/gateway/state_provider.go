package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/primegavel/go/internal/auction/engine"
	"github.com/mcdev12/primegavel/go/internal/models"
)

// ErrAuctionNotLive is returned for an auction with no registered session
var ErrAuctionNotLive = errors.New("no live session for auction")

// SessionSource exposes the live sessions held by the engine
type SessionSource interface {
	Snapshot(auctionID string) (engine.Snapshot, bool)
	ActiveSessions() []engine.Snapshot
	Participants(auctionID string) int
}

// Catalog exposes read-only lot and history listings
type Catalog interface {
	ListOpenLots(ctx context.Context) ([]*models.Lot, error)
	ListLots(ctx context.Context) ([]*models.Lot, error)
	ListHistory(ctx context.Context, identity string) ([]models.HistoryEntry, error)
}

// EngineStateProvider implements StateProvider on top of the auction engine and the lot catalog
type EngineStateProvider struct {
	sessions SessionSource
	catalog  Catalog
}

// NewEngineStateProvider creates a state provider. catalog may be nil, in which
// case catalog listings are empty.
func NewEngineStateProvider(sessions SessionSource, catalog Catalog) *EngineStateProvider {
	return &EngineStateProvider{
		sessions: sessions,
		catalog:  catalog,
	}
}

// GetAuctionState returns the live state of one auction
func (p *EngineStateProvider) GetAuctionState(ctx context.Context, auctionID string) (*AuctionStateResponse, error) {
	snap, ok := p.sessions.Snapshot(auctionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotLive, auctionID)
	}
	resp := stateFromSnapshot(snap)
	resp.Participants = p.sessions.Participants(auctionID)
	return resp, nil
}

// GetActiveAuctions returns a summary of every registered session
func (p *EngineStateProvider) GetActiveAuctions(ctx context.Context) ([]AuctionSummary, error) {
	snaps := p.sessions.ActiveSessions()
	out := make([]AuctionSummary, 0, len(snaps))
	for _, s := range snaps {
		started := s.StartedAt
		out = append(out, AuctionSummary{
			AuctionID:    s.AuctionID,
			State:        string(s.State),
			CurrentBid:   s.CurrentBid,
			TimeLeft:     s.RemainingSeconds,
			Participants: p.sessions.Participants(s.AuctionID),
			StartedAt:    &started,
		})
	}
	return out, nil
}

func (p *EngineStateProvider) ListOpenLots(ctx context.Context) ([]*models.Lot, error) {
	if p.catalog == nil {
		return []*models.Lot{}, nil
	}
	return p.catalog.ListOpenLots(ctx)
}

func (p *EngineStateProvider) ListLots(ctx context.Context) ([]*models.Lot, error) {
	if p.catalog == nil {
		return []*models.Lot{}, nil
	}
	return p.catalog.ListLots(ctx)
}

func (p *EngineStateProvider) ListHistory(ctx context.Context, identity string) ([]models.HistoryEntry, error) {
	if p.catalog == nil {
		return []models.HistoryEntry{}, nil
	}
	return p.catalog.ListHistory(ctx, identity)
}

func stateFromSnapshot(s engine.Snapshot) *AuctionStateResponse {
	payload := s.UpdatePayload()
	return &AuctionStateResponse{
		AuctionID:     s.AuctionID,
		State:         string(s.State),
		TimeLeft:      payload.TimeLeft,
		CurrentBid:    payload.CurrentBid,
		HighestBidder: payload.HighestBidder,
		Increment:     payload.Increment,
		Ended:         payload.Ended,
		StartingBid:   s.StartingBid,
		BidCount:      s.BidCount,
		StartedAt:     s.StartedAt,
	}
}
