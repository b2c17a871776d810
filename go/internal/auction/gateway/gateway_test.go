package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/primegavel/go/internal/auction/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerCall struct {
	ConnID    string
	AuctionID string
	Identity  string
	Increment int64
}

// recordingHandler stands in for the engine: it tracks membership and answers
// through the connection manager the way the engine does.
type recordingHandler struct {
	cm *ConnectionManager

	mu      sync.Mutex
	members map[string]map[string]bool
	joins   []handlerCall
	leaves  []handlerCall
	bids    []handlerCall
}

func (h *recordingHandler) Join(ctx context.Context, connID, auctionID, identity string) error {
	h.mu.Lock()
	if h.members[auctionID] == nil {
		h.members[auctionID] = make(map[string]bool)
	}
	h.members[auctionID][identity] = true
	count := len(h.members[auctionID])
	h.joins = append(h.joins, handlerCall{ConnID: connID, AuctionID: auctionID, Identity: identity})
	h.mu.Unlock()

	h.cm.Broadcast(auctionID, events.Participants, events.ParticipantsPayload{Count: count})
	return nil
}

func (h *recordingHandler) Leave(ctx context.Context, auctionID, identity string) int {
	h.mu.Lock()
	delete(h.members[auctionID], identity)
	count := len(h.members[auctionID])
	h.leaves = append(h.leaves, handlerCall{AuctionID: auctionID, Identity: identity})
	h.mu.Unlock()

	h.cm.Broadcast(auctionID, events.Participants, events.ParticipantsPayload{Count: count})
	return count
}

func (h *recordingHandler) Bid(ctx context.Context, connID, auctionID, bidder string, increment int64) error {
	h.mu.Lock()
	h.bids = append(h.bids, handlerCall{ConnID: connID, AuctionID: auctionID, Identity: bidder, Increment: increment})
	h.mu.Unlock()

	if increment <= 0 {
		h.cm.Unicast(connID, events.Error, events.ErrorPayload{Message: "Your bid must be higher than current amount"})
		return errors.New("invalid bid")
	}
	h.cm.Broadcast(auctionID, events.Update, events.SnapshotPayload{TimeLeft: 10, CurrentBid: 100 + increment, HighestBidder: &bidder, Increment: increment})
	return nil
}

func (h *recordingHandler) leftIdentities() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.leaves))
	for _, l := range h.leaves {
		out = append(out, l.Identity)
	}
	return out
}

func (h *recordingHandler) joinCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.joins)
}

type testGateway struct {
	cm      *ConnectionManager
	handler *recordingHandler
	server  *httptest.Server
}

func newTestGateway(t *testing.T, provider StateProvider) *testGateway {
	t.Helper()

	cm := NewConnectionManager(DefaultConnectionConfig())
	handler := &recordingHandler{cm: cm, members: make(map[string]map[string]bool)}
	svc := NewService(cm, handler, provider)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return &testGateway{cm: cm, handler: handler, server: server}
}

func (g *testGateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws/auction"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event events.Name, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func readEvent(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func expectParticipants(t *testing.T, conn *websocket.Conn, want int) {
	t.Helper()
	env := readEvent(t, conn)
	require.Equal(t, events.Participants, env.Event)
	var p events.ParticipantsPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, want, p.Count)
}

func expectError(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	env := readEvent(t, conn)
	require.Equal(t, events.Error, env.Event)
	var p events.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, message, p.Message)
}

func TestGateway_JoinBroadcastsToRoomOnly(t *testing.T) {
	g := newTestGateway(t, nil)
	c1 := g.dial(t)
	c2 := g.dial(t)
	c3 := g.dial(t)

	send(t, c1, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "a@example.com"})
	expectParticipants(t, c1, 1)

	send(t, c2, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "b@example.com"})
	expectParticipants(t, c1, 2)
	expectParticipants(t, c2, 2)

	send(t, c3, events.Join, events.JoinRequest{AuctionID: "lot-2", Name: "c@example.com"})
	expectParticipants(t, c3, 1)

	// c1's next frame is the lot-1 update, not lot-2 traffic
	g.cm.Broadcast("lot-1", events.State, events.SnapshotPayload{TimeLeft: 9, CurrentBid: 100})
	env := readEvent(t, c1)
	assert.Equal(t, events.State, env.Event)
	assert.JSONEq(t, `{"timeLeft":9,"currentBid":100,"highestBidder":null,"increment":0,"ended":false}`, string(env.Data))
}

func TestGateway_RejectsInvalidFrames(t *testing.T) {
	g := newTestGateway(t, nil)
	c := g.dial(t)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	expectError(t, c, "Malformed message")

	send(t, c, events.Join, events.JoinRequest{AuctionID: "lot-1"})
	expectError(t, c, "auctionId and name are required")

	send(t, c, events.Bid, events.BidRequest{AuctionID: "lot-1", Increment: 10})
	expectError(t, c, "auctionId and bidder are required")

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"event":"auction:bid","data":{"increment":"ten"}}`)))
	expectError(t, c, "Malformed bid request")

	assert.Equal(t, 0, g.handler.joinCount())
}

func TestGateway_BidRejectionIsUnicast(t *testing.T) {
	g := newTestGateway(t, nil)
	c1 := g.dial(t)
	c2 := g.dial(t)

	send(t, c1, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "a@example.com"})
	expectParticipants(t, c1, 1)
	send(t, c2, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "b@example.com"})
	expectParticipants(t, c1, 2)
	expectParticipants(t, c2, 2)

	send(t, c1, events.Bid, events.BidRequest{AuctionID: "lot-1", Bidder: "a@example.com", Increment: -5})
	expectError(t, c1, "Your bid must be higher than current amount")

	send(t, c2, events.Bid, events.BidRequest{AuctionID: "lot-1", Bidder: "b@example.com", Increment: 20})
	for _, c := range []*websocket.Conn{c1, c2} {
		env := readEvent(t, c)
		require.Equal(t, events.Update, env.Event, "c2 must not see c1's error")
		var p events.SnapshotPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.Equal(t, int64(120), p.CurrentBid)
		assert.Equal(t, "b@example.com", *p.HighestBidder)
	}
}

func TestGateway_LeavesWhenLastConnectionOfIdentityCloses(t *testing.T) {
	g := newTestGateway(t, nil)
	a1 := g.dial(t)
	a2 := g.dial(t)
	b := g.dial(t)

	send(t, a1, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "a@example.com"})
	expectParticipants(t, a1, 1)
	send(t, a2, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "a@example.com"})
	expectParticipants(t, a2, 1)
	send(t, b, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "b@example.com"})
	expectParticipants(t, b, 2)

	a1.Close()
	require.Eventually(t, func() bool {
		return g.cm.GetConnectionStats().TotalConnections == 2
	}, 2*time.Second, 10*time.Millisecond)

	b.Close()
	require.Eventually(t, func() bool {
		return len(g.handler.leftIdentities()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"b@example.com"}, g.handler.leftIdentities(), "a is still connected through a2")

	a2.Close()
	require.Eventually(t, func() bool {
		return len(g.handler.leftIdentities()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "a@example.com", g.handler.leftIdentities()[1])

	stats := g.cm.GetConnectionStats()
	assert.Equal(t, 0, stats.TotalConnections)
	assert.Equal(t, 0, stats.ActiveRooms)
}

func TestGateway_RejoinUnderNewIdentityReleasesOld(t *testing.T) {
	g := newTestGateway(t, nil)
	c := g.dial(t)

	send(t, c, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "old@example.com"})
	expectParticipants(t, c, 1)

	send(t, c, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "new@example.com"})
	expectParticipants(t, c, 0)
	expectParticipants(t, c, 1)

	assert.Equal(t, []string{"old@example.com"}, g.handler.leftIdentities())
}

func TestGateway_UnicastToUnknownConnectionIsDropped(t *testing.T) {
	g := newTestGateway(t, nil)
	c := g.dial(t)

	g.cm.Unicast("no-such-connection", events.Error, events.ErrorPayload{Message: "lost"})
	send(t, c, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "a@example.com"})
	expectParticipants(t, c, 1)
}

func TestGateway_Stats(t *testing.T) {
	g := newTestGateway(t, nil)
	c := g.dial(t)
	send(t, c, events.Join, events.JoinRequest{AuctionID: "lot-4", Name: "a@example.com"})
	expectParticipants(t, c, 1)

	resp, err := http.Get(g.server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats ConnectionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, map[string]int{"lot-4": 1}, stats.RoomConnections)
}

func (h *recordingHandler) memberCount(auctionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members[auctionID])
}

// newDetachedConnection registers a connection with no socket behind it
func newDetachedConnection(cm *ConnectionManager, id string) *Connection {
	c := &Connection{
		ID:          id,
		Send:        make(chan []byte, 16),
		Manager:     cm,
		joined:      make(map[string]string),
		ConnectedAt: time.Now(),
	}
	cm.registerConnection(c)
	return c
}

func TestGateway_RejoinBeforePendingLeaveKeepsParticipant(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	handler := &recordingHandler{cm: cm, members: make(map[string]map[string]bool)}
	cm.SetEventHandler(handler)

	first := newDetachedConnection(cm, "conn-1")
	first.handleJoin(events.JoinRequest{AuctionID: "lot-1", Name: "alice"})
	require.Equal(t, 1, handler.memberCount("lot-1"))

	// first drops and its departure is still pending when alice reconnects
	leaving := cm.unregisterConnection(first)
	require.Len(t, leaving, 1)

	second := newDetachedConnection(cm, "conn-2")
	second.handleJoin(events.JoinRequest{AuctionID: "lot-1", Name: "alice"})

	cm.releaseDepartures(leaving)
	assert.Empty(t, handler.leftIdentities())
	assert.Equal(t, 1, handler.memberCount("lot-1"))
	assert.Equal(t, map[string]int{"lot-1": 1}, cm.GetConnectionStats().RoomConnections)

	cm.closeConnection(second)
	assert.Equal(t, []string{"alice"}, handler.leftIdentities())
	assert.Equal(t, 0, handler.memberCount("lot-1"))
	assert.Equal(t, 0, cm.roomLocks.size())
}

func TestGateway_ConcurrentRejoinAndCloseKeepTrackerInSync(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	handler := &recordingHandler{cm: cm, members: make(map[string]map[string]bool)}
	cm.SetEventHandler(handler)

	// each round an old connection closes while a new one rejoins as alice
	prev := newDetachedConnection(cm, "conn-0")
	prev.handleJoin(events.JoinRequest{AuctionID: "lot-1", Name: "alice"})
	for i := 1; i <= 50; i++ {
		next := newDetachedConnection(cm, "conn-"+strconv.Itoa(i))
		var wg sync.WaitGroup
		wg.Add(2)
		go func(c *Connection) {
			defer wg.Done()
			cm.closeConnection(c)
		}(prev)
		go func(c *Connection) {
			defer wg.Done()
			c.handleJoin(events.JoinRequest{AuctionID: "lot-1", Name: "alice"})
		}(next)
		wg.Wait()

		require.Equal(t, 1, handler.memberCount("lot-1"), "round %d", i)
		prev = next
	}

	cm.closeConnection(prev)
	assert.Equal(t, 0, handler.memberCount("lot-1"))
}

func TestGateway_CloseAllReleasesParticipants(t *testing.T) {
	g := newTestGateway(t, nil)
	c1 := g.dial(t)
	c2 := g.dial(t)

	send(t, c1, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "a@example.com"})
	expectParticipants(t, c1, 1)
	send(t, c2, events.Join, events.JoinRequest{AuctionID: "lot-1", Name: "b@example.com"})
	expectParticipants(t, c1, 2)

	g.cm.CloseAll()

	require.Eventually(t, func() bool {
		return g.cm.GetConnectionStats().TotalConnections == 0 && len(g.handler.leftIdentities()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, g.handler.memberCount("lot-1"))
}
