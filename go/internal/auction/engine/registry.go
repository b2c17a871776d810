package engine

import (
	"sort"
	"sync"
)

// Registry maps auction IDs to at most one session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for auctionID, or false when none exists.
func (r *Registry) Get(auctionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[auctionID]
	return s, ok
}

// CreateIfAbsent inserts s only if auctionID has no session, live or ended.
// It reports whether the insert happened.
func (r *Registry) CreateIfAbsent(auctionID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[auctionID]; exists {
		return false
	}
	r.sessions[auctionID] = s
	return true
}

// Evict removes the session for auctionID. Evicting twice is a no-op.
func (r *Registry) Evict(auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[auctionID]; !exists {
		return false
	}
	delete(r.sessions, auctionID)
	return true
}

// IDs returns the auction IDs of all registered sessions, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// keyedMutex hands out one mutex per key and drops it once nobody holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
