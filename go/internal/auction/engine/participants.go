package engine

import "sync"

// ParticipantTracker keeps the set of identities joined to each auction.
// Membership is keyed by participant identity; one identity counts once
// no matter how many connections it opens.
type ParticipantTracker struct {
	mu           sync.Mutex
	participants map[string]map[string]struct{}
}

// NewParticipantTracker creates an empty tracker
func NewParticipantTracker() *ParticipantTracker {
	return &ParticipantTracker{
		participants: make(map[string]map[string]struct{}),
	}
}

// Join adds identity to the auction and returns the new count.
func (t *ParticipantTracker) Join(auctionID, identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.participants[auctionID]
	if !ok {
		set = make(map[string]struct{})
		t.participants[auctionID] = set
	}
	set[identity] = struct{}{}
	return len(set)
}

// Leave removes identity from the auction and returns the new count.
func (t *ParticipantTracker) Leave(auctionID, identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.participants[auctionID]
	if !ok {
		return 0
	}
	delete(set, identity)
	if len(set) == 0 {
		delete(t.participants, auctionID)
		return 0
	}
	return len(set)
}

// Count returns the number of identities joined to the auction
func (t *ParticipantTracker) Count(auctionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.participants[auctionID])
}
