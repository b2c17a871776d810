package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcdev12/primegavel/go/internal/auction/engine"
	"github.com/mcdev12/primegavel/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	snaps        map[string]engine.Snapshot
	participants map[string]int
}

func (f *fakeSessions) Snapshot(auctionID string) (engine.Snapshot, bool) {
	s, ok := f.snaps[auctionID]
	return s, ok
}

func (f *fakeSessions) ActiveSessions() []engine.Snapshot {
	out := make([]engine.Snapshot, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s)
	}
	return out
}

func (f *fakeSessions) Participants(auctionID string) int {
	return f.participants[auctionID]
}

type fakeCatalog struct {
	lots    []*models.Lot
	decided []*models.Lot
	history map[string][]models.HistoryEntry
	err     error
}

func (f *fakeCatalog) ListOpenLots(ctx context.Context) ([]*models.Lot, error) {
	return f.lots, f.err
}

func (f *fakeCatalog) ListLots(ctx context.Context) ([]*models.Lot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append(append([]*models.Lot{}, f.lots...), f.decided...), nil
}

func (f *fakeCatalog) ListHistory(ctx context.Context, identity string) ([]models.HistoryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := f.history[identity]
	if h == nil {
		h = []models.HistoryEntry{}
	}
	return h, nil
}

func newStateServer(t *testing.T, catalog Catalog) *httptest.Server {
	t.Helper()
	leader := "a@example.com"
	sessions := &fakeSessions{
		snaps: map[string]engine.Snapshot{
			"lot-1": {
				AuctionID:        "lot-1",
				LotNo:            1,
				StartingBid:      100,
				CurrentBid:       180,
				HighestBidder:    &leader,
				LastIncrement:    30,
				BidCount:         3,
				RemainingSeconds: 6,
				State:            engine.StateActive,
				StartedAt:        time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC),
			},
		},
		participants: map[string]int{"lot-1": 4},
	}

	mux := http.NewServeMux()
	NewStateHandler(NewEngineStateProvider(sessions, catalog)).RegisterStateRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestStateHandler_AuctionState(t *testing.T) {
	server := newStateServer(t, nil)

	var state AuctionStateResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/auctions/lot-1/state", &state))
	assert.Equal(t, "lot-1", state.AuctionID)
	assert.Equal(t, "ACTIVE", state.State)
	assert.Equal(t, 6, state.TimeLeft)
	assert.Equal(t, int64(180), state.CurrentBid)
	assert.Equal(t, "a@example.com", *state.HighestBidder)
	assert.Equal(t, int64(30), state.Increment)
	assert.Equal(t, 4, state.Participants)
	assert.False(t, state.Ended)

	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/auctions/lot-9/state", nil))
}

func TestStateHandler_ActiveAuctions(t *testing.T) {
	server := newStateServer(t, nil)

	var active []AuctionSummary
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/auctions/active", &active))
	require.Len(t, active, 1)
	assert.Equal(t, "lot-1", active[0].AuctionID)
	assert.Equal(t, 4, active[0].Participants)
	assert.Equal(t, 6, active[0].TimeLeft)
}

func TestStateHandler_CatalogListings(t *testing.T) {
	catalog := &fakeCatalog{
		lots: []*models.Lot{{AuctionID: "lot-2", LotNo: 2, ProductName: "Cumin", BasePrice: 150}},
		history: map[string][]models.HistoryEntry{
			"w@example.com": {{AuctionID: "lot-7", Winner: "w@example.com", FinalBid: 510}},
		},
	}
	server := newStateServer(t, catalog)

	var lots []models.Lot
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/lots", &lots))
	require.Len(t, lots, 1)
	assert.Equal(t, "Cumin", lots[0].ProductName)

	var history []models.HistoryEntry
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/traders/w@example.com/history", &history))
	require.Len(t, history, 1)
	assert.Equal(t, int64(510), history[0].FinalBid)

	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/traders/nobody/history", &history))
	assert.Empty(t, history)

	catalog.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, server.URL+"/api/lots", nil))
}

func TestStateHandler_NoCatalog(t *testing.T) {
	server := newStateServer(t, nil)

	var lots []models.Lot
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/lots", &lots))
	assert.Empty(t, lots)
}

func TestStateHandler_ListAllLotsIncludesDecided(t *testing.T) {
	winner := "w@example.com"
	bid := int64(510)
	catalog := &fakeCatalog{
		lots:    []*models.Lot{{AuctionID: "lot-2", LotNo: 2, ProductName: "Cumin", BasePrice: 150}},
		decided: []*models.Lot{{AuctionID: "lot-7", LotNo: 7, ProductName: "Cardamom", Winner: &winner, FinalBid: &bid}},
	}
	server := newStateServer(t, catalog)

	var open []models.Lot
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/lots?all=false", &open))
	require.Len(t, open, 1)

	var all []models.Lot
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/lots?all=true", &all))
	require.Len(t, all, 2)
	assert.Equal(t, "lot-7", all[1].AuctionID)
	require.NotNil(t, all[1].Winner)
	assert.Equal(t, winner, *all[1].Winner)
	assert.Equal(t, bid, *all[1].FinalBid)

	catalog.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, server.URL+"/api/lots?all=true", nil))
}
