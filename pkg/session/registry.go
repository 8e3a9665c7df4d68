package session

import (
	"sync"
	"time"

	"github.com/Sternrassler/follow-reconciler/pkg/ratelimit"
)

// Registry holds one Session per caller token. Tokens are never stored; sessions
// are keyed by ratelimit.TokenKey.
type Registry struct {
	config Config

	mu       sync.Mutex
	sessions map[string]*registryEntry
	now      func() time.Time
}

type registryEntry struct {
	session  *Session
	lastSeen time.Time
}

// NewRegistry creates a registry that builds sessions from cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		config:   cfg,
		sessions: make(map[string]*registryEntry),
		now:      time.Now,
	}
}

// Get returns the session for token, creating it on first use.
func (r *Registry) Get(token string) (*Session, error) {
	key := ratelimit.TokenKey(token)

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.sessions[key]; ok {
		entry.lastSeen = r.now()
		return entry.session, nil
	}

	s, err := New(r.config)
	if err != nil {
		return nil, err
	}
	r.sessions[key] = &registryEntry{session: s, lastSeen: r.now()}
	activeSessions.Set(float64(len(r.sessions)))
	return s, nil
}

// Prune drops sessions unused for longer than maxIdle, skipping any with work in flight.
// It returns the number of sessions removed.
func (r *Registry) Prune(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for key, entry := range r.sessions {
		if entry.lastSeen.After(cutoff) {
			continue
		}
		s := entry.session
		if s.IsSearching() || s.IsFollowingAny() || s.IsUnfollowingAny() {
			continue
		}
		delete(r.sessions, key)
		removed++
	}
	activeSessions.Set(float64(len(r.sessions)))
	return removed
}

// Len returns the number of sessions held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
