package engine

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/primegavel/go/internal/auction/events"
	"github.com/mcdev12/primegavel/go/internal/models"
)

type sentEvent struct {
	Target  string // auction ID for broadcasts, connection ID for unicasts
	Unicast bool
	Name    events.Name
	Payload any
}

// recordingBroadcaster captures every event in send order
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) Broadcast(auctionID string, name events.Name, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{Target: auctionID, Name: name, Payload: payload})
}

func (b *recordingBroadcaster) Unicast(connID string, name events.Name, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{Target: connID, Unicast: true, Name: name, Payload: payload})
}

func (b *recordingBroadcaster) named(name events.Name) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, ev := range b.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBroadcaster) last(name events.Name) (sentEvent, bool) {
	evs := b.named(name)
	if len(evs) == 0 {
		return sentEvent{}, false
	}
	return evs[len(evs)-1], true
}

// fakeStore is an in-memory lot store
type fakeStore struct {
	mu      sync.Mutex
	lots    map[string]*models.Lot
	history map[string][]models.HistoryEntry

	outcomes  []string
	findCalls atomic.Int32
	findErr   error         // returned once, then cleared
	findDelay time.Duration // slows lookups down to widen races
	findGate  chan struct{} // when set, lookups after the first wait on it
}

func newFakeStore(lots ...*models.Lot) *fakeStore {
	s := &fakeStore{
		lots:    make(map[string]*models.Lot),
		history: make(map[string][]models.HistoryEntry),
	}
	for _, l := range lots {
		s.lots[l.AuctionID] = l
	}
	return s
}

func (s *fakeStore) FindLot(ctx context.Context, auctionID string) (*models.Lot, error) {
	n := s.findCalls.Add(1)
	if s.findDelay > 0 {
		time.Sleep(s.findDelay)
	}
	if s.findGate != nil && n > 1 {
		select {
		case <-s.findGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		err := s.findErr
		s.findErr = nil
		return nil, err
	}
	l, ok := s.lots[auctionID]
	if !ok {
		return nil, models.ErrLotNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *fakeStore) SetLotOutcome(ctx context.Context, auctionID string, lotNo int, winner *string, finalBid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lots[auctionID]
	if !ok {
		return models.ErrLotNotFound
	}
	l.Winner = winner
	l.FinalBid = &finalBid
	s.outcomes = append(s.outcomes, auctionID)
	return nil
}

func (s *fakeStore) AppendToHistory(ctx context.Context, identity string, entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[identity] = append(s.history[identity], entry)
	return nil
}

func (s *fakeStore) historyOf(identity string) []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HistoryEntry(nil), s.history[identity]...)
}

func (s *fakeStore) outcomeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

// fakeNotifier records notices
type fakeNotifier struct {
	mu      sync.Mutex
	notices []models.WinNotice
	err     error
}

func (n *fakeNotifier) NotifyWinner(ctx context.Context, notice models.WinNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

// fakePublisher records published domain events
type fakePublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *fakePublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType)
	}
	return out
}

func testLot(lotNo int, basePrice int64) *models.Lot {
	return &models.Lot{
		AuctionID:     lotKey(lotNo),
		LotNo:         lotNo,
		AuctionDate:   "2026-10-19",
		ProductName:   "Basmati Rice",
		Quantity:      "50kg",
		BasePrice:     basePrice,
		ConsignorName: "Ravi Traders",
		ProductType:   "Grain",
	}
}

func lotKey(lotNo int) string {
	return "lot-" + strconv.Itoa(lotNo)
}

type testEnv struct {
	engine      *Engine
	store       *fakeStore
	broadcaster *recordingBroadcaster
	notifier    *fakeNotifier
	publisher   *fakePublisher
	clock       *clockwork.FakeClock
}

func newTestEnv(t *testing.T, store *fakeStore) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.FinalizeBackoff = 0

	env := &testEnv{
		store:       store,
		broadcaster: &recordingBroadcaster{},
		notifier:    &fakeNotifier{},
		publisher:   &fakePublisher{},
		clock:       clockwork.NewFakeClock(),
	}
	env.engine = New(cfg, store, env.broadcaster,
		WithClock(env.clock),
		WithNotifier(env.notifier),
		WithPublisher(env.publisher),
	)
	t.Cleanup(env.engine.Close)
	return env
}

// startAuction joins two bidders so the session starts
func (env *testEnv) startAuction(t *testing.T, auctionID string) {
	t.Helper()
	ctx := context.Background()
	if err := env.engine.Join(ctx, "conn-a", auctionID, "a@example.com"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err := env.engine.Join(ctx, "conn-b", auctionID, "b@example.com"); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if _, ok := env.engine.Snapshot(auctionID); !ok {
		t.Fatalf("session for %s not started", auctionID)
	}
}

// tickN fires n ticks directly through the scheduler callback
func (env *testEnv) tickN(auctionID string, n int) (stopped bool) {
	for i := 0; i < n; i++ {
		stopped = env.engine.tick(auctionID)
	}
	return stopped
}
