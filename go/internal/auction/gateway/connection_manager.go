package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/primegavel/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// EventHandler receives the inbound auction events routed by the gateway
type EventHandler interface {
	Join(ctx context.Context, connID, auctionID, identity string) error
	Leave(ctx context.Context, auctionID, identity string) int
	Bid(ctx context.Context, connID, auctionID, bidder string, increment int64) error
}

// ConnectionManager manages WebSocket connections and auction rooms
type ConnectionManager struct {
	// Connections organized by auction ID, plus an index by connection ID for unicast
	rooms       map[string]map[*Connection]bool
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	handler EventHandler

	// per-auction locks held from a membership decision through the handler call it triggers
	roomLocks *roomLocks

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// auction ID -> identity the connection joined with, guarded by Manager.mu
	joined map[string]string
	closed bool

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	HandlerTimeout  time.Duration
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is an outbound event for a room, or for one connection when ConnID is set
type BroadcastMessage struct {
	AuctionID string
	ConnID    string
	Event     events.Name
	Payload   any
}

// Envelope is the wire format of every frame in both directions
type Envelope struct {
	Event events.Name     `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		HandlerTimeout:  15 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		rooms:       make(map[string]map[*Connection]bool),
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		roomLocks:   newRoomLocks(),
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetEventHandler sets the receiver of inbound join and bid events. It must be
// called before connections are accepted.
func (cm *ConnectionManager) SetEventHandler(h EventHandler) {
	cm.handler = h
}

// Start processes outbound messages in enqueue order until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		joined:      make(map[string]string),
		ConnectedAt: time.Now(),
	}
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.ID] = conn
}

// joinRoom subscribes conn to auctionID under identity. It returns the identity
// the connection previously joined with when that identity is no longer held by
// any connection in the room and so must leave.
func (cm *ConnectionManager) joinRoom(conn *Connection, auctionID, identity string) (orphaned string, ok bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.closed {
		return "", false
	}
	if cm.rooms[auctionID] == nil {
		cm.rooms[auctionID] = make(map[*Connection]bool)
	}
	cm.rooms[auctionID][conn] = true

	prev, had := conn.joined[auctionID]
	conn.joined[auctionID] = identity
	if had && prev != identity && !cm.identityHeldLocked(auctionID, prev) {
		return prev, true
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("auction_id", auctionID).
		Int("room_size", len(cm.rooms[auctionID])).
		Msg("connection joined room")
	return "", true
}

// identityHeld reports whether any open connection in the room joined with identity
func (cm *ConnectionManager) identityHeld(auctionID, identity string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.identityHeldLocked(auctionID, identity)
}

// identityHeldLocked reports whether any connection in the room joined with identity
func (cm *ConnectionManager) identityHeldLocked(auctionID, identity string) bool {
	for c := range cm.rooms[auctionID] {
		if c.joined[auctionID] == identity {
			return true
		}
	}
	return false
}

type departure struct {
	auctionID string
	identity  string
}

// unregisterConnection removes a connection from every room it joined and
// returns the memberships that no other connection still holds. Unregistering
// twice returns nothing.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) []departure {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.closed {
		return nil
	}
	conn.closed = true
	delete(cm.connections, conn.ID)
	close(conn.Send)

	var leaving []departure
	for auctionID, identity := range conn.joined {
		room := cm.rooms[auctionID]
		delete(room, conn)
		if len(room) == 0 {
			delete(cm.rooms, auctionID)
		}
		if !cm.identityHeldLocked(auctionID, identity) {
			leaving = append(leaving, departure{auctionID: auctionID, identity: identity})
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Int("rooms", len(conn.joined)).
		Msg("connection unregistered")
	return leaving
}

// closeConnection unregisters conn and reports departures to the event handler
func (cm *ConnectionManager) closeConnection(conn *Connection) {
	cm.releaseDepartures(cm.unregisterConnection(conn))
}

// releaseDepartures calls Leave for each departure whose identity still has no
// connection in the room once the room lock is held. A rejoin that slipped in
// after unregistering keeps the participant.
func (cm *ConnectionManager) releaseDepartures(leaving []departure) {
	for _, d := range leaving {
		cm.releaseDeparture(d)
	}
}

func (cm *ConnectionManager) releaseDeparture(d departure) {
	unlock := cm.roomLocks.lock(d.auctionID)
	defer unlock()

	if cm.identityHeld(d.auctionID, d.identity) {
		log.Debug().
			Str("auction_id", d.auctionID).
			Str("identity", d.identity).
			Msg("identity rejoined before leave, keeping participant")
		return
	}
	if cm.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cm.config.HandlerTimeout)
	defer cancel()
	cm.handler.Leave(ctx, d.auctionID, d.identity)
}

// CloseAll closes every open connection. Each connection's read loop then
// unregisters it and reports its departures.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		if c.Conn != nil {
			c.Conn.Close()
		}
	}
	log.Info().Int("connections", len(conns)).Msg("closed all websocket connections")
}

// Broadcast queues an event for every connection in the auction's room. It never blocks.
func (cm *ConnectionManager) Broadcast(auctionID string, event events.Name, payload any) {
	select {
	case cm.broadcastCh <- BroadcastMessage{AuctionID: auctionID, Event: event, Payload: payload}:
	default:
		log.Warn().
			Str("auction_id", auctionID).
			Str("event", string(event)).
			Msg("broadcast channel full, dropping message")
	}
}

// Unicast queues an event for a single connection. It never blocks.
func (cm *ConnectionManager) Unicast(connID string, event events.Name, payload any) {
	select {
	case cm.broadcastCh <- BroadcastMessage{ConnID: connID, Event: event, Payload: payload}:
	default:
		log.Warn().
			Str("connection_id", connID).
			Str("event", string(event)).
			Msg("broadcast channel full, dropping unicast message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.ConnID != "" {
		if conn, ok := cm.connections[message.ConnID]; ok {
			targets = append(targets, conn)
		}
	} else {
		for conn := range cm.rooms[message.AuctionID] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	frame, err := encodeFrame(message.Event, message.Payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(message.Event)).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.enqueue(frame) {
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event", string(message.Event)).
		Str("auction_id", message.AuctionID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.rooms),
		RoomConnections:  make(map[string]int, len(cm.rooms)),
	}
	for auctionID, conns := range cm.rooms {
		stats.RoomConnections[auctionID] = len(conns)
	}
	return stats
}

// ConnectionStats summarizes the open connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func encodeFrame(event events.Name, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// enqueue hands a frame to the write pump without blocking. It reports false
// when the send buffer is full.
func (c *Connection) enqueue(frame []byte) bool {
	c.Manager.mu.RLock()
	defer c.Manager.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads inbound frames until the connection closes, then runs the
// departure bookkeeping exactly once.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.closeConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

// lock acquires the lock for auctionID and returns its release func. Entries
// are dropped once no goroutine holds or waits on them.
func (r *roomLocks) lock(auctionID string) func() {
	r.mu.Lock()
	l, ok := r.locks[auctionID]
	if !ok {
		l = &roomLock{}
		r.locks[auctionID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, auctionID)
		}
		r.mu.Unlock()
	}
}

func (r *roomLocks) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
