package engine

import (
	"math"
	"sync"
	"time"

	"github.com/mcdev12/primegavel/go/internal/auction/events"
)

// State is the lifecycle state of an auction session.
type State string

const (
	StateIdle   State = "IDLE"
	StateActive State = "ACTIVE"
	StateEnded  State = "ENDED"
)

type tickResult int

const (
	tickIgnored tickResult = iota
	tickDecremented
	tickEnded
)

// Session is the live bidding state of one lot. All fields are guarded by mu
// and only reachable through the session's transition methods.
type Session struct {
	mu sync.Mutex

	auctionID     string
	lotNo         int
	startingBid   int64
	currentBid    int64
	highestBidder *string
	lastIncrement int64
	bidCount      int
	countdown     int
	remaining     int
	state         State
	startedAt     time.Time
	endedAt       time.Time
}

// Snapshot is a copy of a session's state, safe to hand across goroutines.
type Snapshot struct {
	AuctionID        string     `json:"auction_id"`
	LotNo            int        `json:"lot_no"`
	StartingBid      int64      `json:"starting_bid"`
	CurrentBid       int64      `json:"current_bid"`
	HighestBidder    *string    `json:"highest_bidder"`
	LastIncrement    int64      `json:"last_increment"`
	BidCount         int        `json:"bid_count"`
	RemainingSeconds int        `json:"remaining_seconds"`
	State            State      `json:"state"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

func newSession(auctionID string, lotNo int, startingBid int64, countdown int) *Session {
	return &Session{
		auctionID:   auctionID,
		lotNo:       lotNo,
		startingBid: startingBid,
		currentBid:  startingBid,
		countdown:   countdown,
		remaining:   countdown,
		state:       StateIdle,
	}
}

// activate moves an idle session to Active. It has no effect in any other state.
func (s *Session) activate(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return
	}
	s.state = StateActive
	s.remaining = s.countdown
	s.startedAt = now
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		AuctionID:        s.auctionID,
		LotNo:            s.lotNo,
		StartingBid:      s.startingBid,
		CurrentBid:       s.currentBid,
		LastIncrement:    s.lastIncrement,
		BidCount:         s.bidCount,
		RemainingSeconds: s.remaining,
		State:            s.state,
		StartedAt:        s.startedAt,
	}
	if s.highestBidder != nil {
		b := *s.highestBidder
		snap.HighestBidder = &b
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// applyBid adds increment to the current bid and resets the countdown.
// emit runs while the session lock is held so snapshots go out in transition order.
func (s *Session) applyBid(bidder string, increment int64, emit func(Snapshot)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return s.snapshotLocked(), ErrSessionEnded
	}
	if increment <= 0 || increment > math.MaxInt64-s.currentBid {
		return s.snapshotLocked(), ErrInvalidBid
	}

	s.currentBid += increment
	b := bidder
	s.highestBidder = &b
	s.lastIncrement = increment
	s.remaining = s.countdown
	s.bidCount++

	snap := s.snapshotLocked()
	if emit != nil {
		emit(snap)
	}
	return snap, nil
}

// tick decrements the countdown, or ends the session once it has reached zero.
func (s *Session) tick(now time.Time, emit func(tickResult, Snapshot)) (tickResult, Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return tickIgnored, s.snapshotLocked()
	}

	res := tickDecremented
	if s.remaining > 0 {
		s.remaining--
	} else {
		s.state = StateEnded
		s.endedAt = now
		res = tickEnded
	}

	snap := s.snapshotLocked()
	if emit != nil {
		emit(res, snap)
	}
	return res, snap
}

// UpdatePayload builds the auction:update / auction:state payload
func (s Snapshot) UpdatePayload() events.SnapshotPayload {
	return events.SnapshotPayload{
		TimeLeft:      s.RemainingSeconds,
		CurrentBid:    s.CurrentBid,
		HighestBidder: s.HighestBidder,
		Increment:     s.LastIncrement,
		Ended:         s.State == StateEnded,
	}
}

// EndPayload builds the auction:end payload
func (s Snapshot) EndPayload() events.EndPayload {
	return events.EndPayload{
		TimeLeft:      0,
		CurrentBid:    s.CurrentBid,
		HighestBidder: s.HighestBidder,
	}
}
