package engine

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
	After(d time.Duration) <-chan time.Time
}

// TickFunc handles one tick for an auction and reports whether ticking should stop.
type TickFunc func(auctionID string) (stop bool)

// Scheduler drives one ticker per active session.
type Scheduler struct {
	clock    Clock
	interval time.Duration
	onTick   TickFunc

	activeMu sync.Mutex
	active   map[string]*tickerHandle
	stopped  bool

	wg sync.WaitGroup
}

type tickerHandle struct {
	ticker clockwork.Ticker
	stop   chan struct{}
}

// NewScheduler creates a scheduler that calls onTick every interval for each scheduled auction
func NewScheduler(clock Clock, interval time.Duration, onTick TickFunc) *Scheduler {
	return &Scheduler{
		clock:    clock,
		interval: interval,
		onTick:   onTick,
		active:   make(map[string]*tickerHandle),
	}
}

// Schedule starts ticking for auctionID, replacing any ticker it already had.
// It reports false once the scheduler has been stopped.
func (s *Scheduler) Schedule(ctx context.Context, auctionID string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if s.stopped {
		log.Debug().Str("auction_id", auctionID).Msg("scheduler stopped, not scheduling ticker")
		return false
	}

	h := &tickerHandle{
		ticker: s.clock.NewTicker(s.interval),
		stop:   make(chan struct{}),
	}
	if existing, ok := s.active[auctionID]; ok {
		close(existing.stop)
		log.Debug().Str("auction_id", auctionID).Msg("replaced existing ticker")
	}
	s.active[auctionID] = h

	s.wg.Add(1)
	go s.run(ctx, auctionID, h)

	log.Debug().
		Str("auction_id", auctionID).
		Dur("interval", s.interval).
		Msg("scheduled session ticker")
	return true
}

func (s *Scheduler) run(ctx context.Context, auctionID string, h *tickerHandle) {
	defer s.wg.Done()
	defer h.ticker.Stop()

	for {
		select {
		case <-h.ticker.Chan():
			if s.onTick(auctionID) {
				s.remove(auctionID, h)
				return
			}
		case <-h.stop:
			return
		case <-ctx.Done():
			s.remove(auctionID, h)
			log.Debug().Str("auction_id", auctionID).Msg("ticker cancelled due to context cancellation")
			return
		}
	}
}

// Cancel stops the ticker for auctionID. Cancelling an unknown auction is a no-op.
func (s *Scheduler) Cancel(auctionID string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if h, ok := s.active[auctionID]; ok {
		close(h.stop)
		delete(s.active, auctionID)
		log.Debug().Str("auction_id", auctionID).Msg("cancelled ticker")
	}
}

// remove drops h from the active set if it is still the current handle
func (s *Scheduler) remove(auctionID string, h *tickerHandle) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.active[auctionID] == h {
		delete(s.active, auctionID)
	}
}

// Active returns the number of running tickers
func (s *Scheduler) Active() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}

// Stop cancels every ticker and waits for their goroutines to exit. Later
// Schedule calls are refused.
func (s *Scheduler) Stop() {
	s.activeMu.Lock()
	s.stopped = true
	for auctionID, h := range s.active {
		close(h.stop)
		log.Debug().Str("auction_id", auctionID).Msg("cancelled ticker on shutdown")
	}
	s.active = make(map[string]*tickerHandle)
	s.activeMu.Unlock()

	s.wg.Wait()
}
