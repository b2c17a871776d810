package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/primegavel/go/internal/auction/events"
	"github.com/mcdev12/primegavel/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Broadcaster fans events out to the connections of an auction room.
// Implementations must not block.
type Broadcaster interface {
	Broadcast(auctionID string, event events.Name, payload any)
	Unicast(connID string, event events.Name, payload any)
}

// EventPublisher publishes auction lifecycle events to the message bus
type EventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) error
}

// Config holds engine tuning
type Config struct {
	StartThreshold   int           `yaml:"start_threshold"`
	CountdownSeconds int           `yaml:"countdown_seconds"`
	DefaultFloor     int64         `yaml:"default_floor"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	FinalizeAttempts int           `yaml:"finalize_attempts"`
	FinalizeBackoff  time.Duration `yaml:"finalize_backoff"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		StartThreshold:   2,
		CountdownSeconds: 10,
		DefaultFloor:     100,
		TickInterval:     time.Second,
		FinalizeAttempts: 3,
		FinalizeBackoff:  500 * time.Millisecond,
		StoreTimeout:     10 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultConfig
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.StartThreshold <= 0 {
		c.StartThreshold = d.StartThreshold
	}
	if c.CountdownSeconds <= 0 {
		c.CountdownSeconds = d.CountdownSeconds
	}
	if c.DefaultFloor <= 0 {
		c.DefaultFloor = d.DefaultFloor
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.FinalizeAttempts <= 0 {
		c.FinalizeAttempts = d.FinalizeAttempts
	}
	if c.FinalizeBackoff < 0 {
		c.FinalizeBackoff = d.FinalizeBackoff
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	return c
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces the real clock
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNotifier sets the winner notifier
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPublisher sets the domain event publisher
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// Engine routes join, bid and leave events to per-auction sessions and
// drives their countdown until finalization.
type Engine struct {
	cfg         Config
	store       Store
	broadcaster Broadcaster
	notifier    Notifier
	publisher   EventPublisher
	clock       Clock

	registry     *Registry
	participants *ParticipantTracker
	scheduler    *Scheduler
	finalizer    *Finalizer
	gates        *keyedMutex

	// base context for tickers, finalization and publishing
	ctx    context.Context
	cancel context.CancelFunc

	stopping   atomic.Bool
	finalizing sync.WaitGroup

	// background tracks publish goroutines; once bgClosed is set no more are started
	bgMu       sync.Mutex
	bgClosed   bool
	background sync.WaitGroup
}

// New creates an engine
func New(cfg Config, store Store, broadcaster Broadcaster, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:          cfg.WithDefaults(),
		store:        store,
		broadcaster:  broadcaster,
		clock:        clockwork.NewRealClock(),
		registry:     NewRegistry(),
		participants: NewParticipantTracker(),
		gates:        newKeyedMutex(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.scheduler = NewScheduler(e.clock, e.cfg.TickInterval, e.tick)
	e.finalizer = NewFinalizer(store, e.notifier, e.clock, e.cfg)
	return e
}

// Join records identity as a participant of auctionID, broadcasts the new
// count and starts a session once the start threshold is reached.
func (e *Engine) Join(ctx context.Context, connID, auctionID, identity string) error {
	count := e.participants.Join(auctionID, identity)
	e.broadcaster.Broadcast(auctionID, events.Participants, events.ParticipantsPayload{Count: count})

	log.Info().
		Str("auction_id", auctionID).
		Str("identity", identity).
		Int("participants", count).
		Msg("participant joined")

	if count < e.cfg.StartThreshold {
		return nil
	}
	if _, exists := e.registry.Get(auctionID); exists {
		return nil
	}

	if err := e.startSession(ctx, auctionID, count); err != nil {
		e.unicastError(connID, err)
		return err
	}
	return nil
}

// startSession seeds and registers a session. The lookup and the insert run
// under the auction's gate lock so concurrent joiners start it at most once.
func (e *Engine) startSession(ctx context.Context, auctionID string, participants int) error {
	unlock := e.gates.Lock(auctionID)
	defer unlock()

	if _, exists := e.registry.Get(auctionID); exists {
		return nil
	}
	if e.stopping.Load() {
		return fmt.Errorf("%w: engine is shutting down", ErrUpstreamUnavailable)
	}

	lot, err := e.findLot(ctx, auctionID)
	if err != nil {
		return err
	}
	if lot.Decided() {
		return fmt.Errorf("%w: %s won by %s", ErrAlreadyDecided, auctionID, *lot.Winner)
	}

	seed := lot.BasePrice
	if seed <= 0 {
		seed = e.cfg.DefaultFloor
	}

	s := newSession(auctionID, lot.LotNo, seed, e.cfg.CountdownSeconds)
	now := e.clock.Now()
	s.activate(now)
	if !e.registry.CreateIfAbsent(auctionID, s) {
		return nil
	}
	if !e.scheduler.Schedule(e.ctx, auctionID) {
		e.registry.Evict(auctionID)
		return fmt.Errorf("%w: engine is shutting down", ErrUpstreamUnavailable)
	}

	log.Info().
		Str("auction_id", auctionID).
		Int64("starting_bid", seed).
		Int("participants", participants).
		Msg("auction session started")

	e.publishAsync(events.TypeAuctionStarted, auctionID, events.AuctionStartedPayload{
		AuctionID:        auctionID,
		StartingBid:      seed,
		CountdownSeconds: e.cfg.CountdownSeconds,
		Participants:     participants,
		StartedAt:        now,
	})
	return nil
}

func (e *Engine) findLot(ctx context.Context, auctionID string) (*models.Lot, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	lot, err := e.store.FindLot(lookupCtx, auctionID)
	if err != nil {
		if errors.Is(err, models.ErrLotNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, auctionID)
		}
		log.Error().Err(err).Str("auction_id", auctionID).Msg("failed to load lot")
		return nil, fmt.Errorf("%w: find lot %s: %v", ErrUpstreamUnavailable, auctionID, err)
	}
	return lot, nil
}

// Leave removes identity from auctionID and broadcasts the new count.
// It never ends a running session.
func (e *Engine) Leave(ctx context.Context, auctionID, identity string) int {
	count := e.participants.Leave(auctionID, identity)
	e.broadcaster.Broadcast(auctionID, events.Participants, events.ParticipantsPayload{Count: count})

	log.Info().
		Str("auction_id", auctionID).
		Str("identity", identity).
		Int("participants", count).
		Msg("participant left")
	return count
}

// Bid applies increment for bidder. Rejections are unicast to connID only.
func (e *Engine) Bid(ctx context.Context, connID, auctionID, bidder string, increment int64) error {
	s, ok := e.registry.Get(auctionID)
	if !ok {
		err := fmt.Errorf("%w: no live session for %s", ErrNotFound, auctionID)
		e.unicastError(connID, err)
		return err
	}

	snap, err := s.applyBid(bidder, increment, func(snap Snapshot) {
		e.broadcaster.Broadcast(auctionID, events.Update, snap.UpdatePayload())
	})
	if err != nil {
		e.unicastError(connID, err)
		return err
	}

	log.Info().
		Str("auction_id", auctionID).
		Str("bidder", bidder).
		Int64("increment", increment).
		Int64("current_bid", snap.CurrentBid).
		Msg("bid accepted")

	e.publishAsync(events.TypeBidAccepted, auctionID, events.BidAcceptedPayload{
		AuctionID:  auctionID,
		Bidder:     bidder,
		Increment:  increment,
		CurrentBid: snap.CurrentBid,
		AcceptedAt: e.clock.Now(),
	})
	return nil
}

// tick is the scheduler callback. It reports true once the session is gone or ended.
func (e *Engine) tick(auctionID string) bool {
	s, ok := e.registry.Get(auctionID)
	if !ok {
		return true
	}

	res, snap := s.tick(e.clock.Now(), func(res tickResult, snap Snapshot) {
		switch res {
		case tickDecremented:
			e.broadcaster.Broadcast(auctionID, events.State, snap.UpdatePayload())
		case tickEnded:
			e.broadcaster.Broadcast(auctionID, events.End, snap.EndPayload())
		}
	})

	switch res {
	case tickDecremented:
		log.Debug().
			Str("auction_id", auctionID).
			Int("time_left", snap.RemainingSeconds).
			Msg("session tick")
		return false
	case tickEnded:
		e.scheduler.Cancel(auctionID)
		winner := "<none>"
		if snap.HighestBidder != nil {
			winner = *snap.HighestBidder
		}
		log.Info().
			Str("auction_id", auctionID).
			Str("winner", winner).
			Int64("final_bid", snap.CurrentBid).
			Msg("auction session ended")
		e.beginFinalize(snap)
		return true
	default:
		return true
	}
}

// beginFinalize runs the finalization pipeline off the tick path and evicts
// the session once it completes, whatever the outcome of its steps.
func (e *Engine) beginFinalize(snap Snapshot) {
	outcome := Outcome{
		AuctionID: snap.AuctionID,
		LotNo:     snap.LotNo,
		Winner:    snap.HighestBidder,
		FinalBid:  snap.CurrentBid,
		BidCount:  snap.BidCount,
		EndedAt:   e.clock.Now(),
	}
	if snap.EndedAt != nil {
		outcome.EndedAt = *snap.EndedAt
	}

	e.finalizing.Add(1)
	go func() {
		defer e.finalizing.Done()

		report := e.finalizer.Finalize(e.ctx, outcome)
		e.registry.Evict(outcome.AuctionID)

		log.Info().
			Str("auction_id", outcome.AuctionID).
			Bool("outcome_persisted", report.OutcomePersisted).
			Bool("history_appended", report.HistoryAppended).
			Bool("notified", report.Notified).
			Msg("session finalized and evicted")

		e.publishAsync(events.TypeAuctionEnded, outcome.AuctionID, events.AuctionEndedPayload{
			AuctionID: outcome.AuctionID,
			Winner:    outcome.Winner,
			FinalBid:  outcome.FinalBid,
			BidCount:  outcome.BidCount,
			EndedAt:   outcome.EndedAt,
		})
	}()
}

// Snapshot returns the state of the live session for auctionID
func (e *Engine) Snapshot(auctionID string) (Snapshot, bool) {
	s, ok := e.registry.Get(auctionID)
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// ActiveSessions returns snapshots of every registered session
func (e *Engine) ActiveSessions() []Snapshot {
	ids := e.registry.IDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if s, ok := e.registry.Get(id); ok {
			out = append(out, s.Snapshot())
		}
	}
	return out
}

// Participants returns the participant count of auctionID
func (e *Engine) Participants(auctionID string) int {
	return e.participants.Count(auctionID)
}

// Close stops every ticker, waits for in-flight finalizations and publishes.
// Sessions are no longer started once Close begins. Calling Close twice is a no-op.
func (e *Engine) Close() {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}
	log.Info().Int("sessions", e.registry.Len()).Msg("stopping auction engine")
	e.scheduler.Stop()
	e.finalizing.Wait()

	e.bgMu.Lock()
	e.bgClosed = true
	e.bgMu.Unlock()
	e.background.Wait()
	e.cancel()
	log.Info().Msg("auction engine stopped")
}

func (e *Engine) unicastError(connID string, err error) {
	if connID == "" {
		return
	}
	e.broadcaster.Unicast(connID, events.Error, events.ErrorPayload{Message: ErrorMessage(err)})
}

// publishAsync publishes a domain event without blocking the caller. Failures are logged.
func (e *Engine) publishAsync(eventType, auctionID string, payload any) {
	if e.publisher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal domain event payload")
		return
	}
	event := events.DomainEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		AuctionID: auctionID,
		Timestamp: e.clock.Now().UTC(),
		Payload:   data,
	}

	e.bgMu.Lock()
	if e.bgClosed {
		e.bgMu.Unlock()
		log.Debug().Str("event_type", eventType).Str("auction_id", auctionID).Msg("engine stopped, dropping domain event")
		return
	}
	e.background.Add(1)
	e.bgMu.Unlock()

	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
		defer cancel()
		if err := e.publisher.Publish(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("event_type", eventType).
				Str("auction_id", auctionID).
				Msg("failed to publish domain event")
		}
	}()
}
