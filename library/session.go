package library

import (
	"context"
	"sync"
)

// SessionStore holds the single session of a running client. Views read it
// through Current; Update replaces it and runs every subscriber once, which is
// the one re-render pass per session change.
type SessionStore struct {
	mu        sync.RWMutex
	current   Session
	gen       uint64
	listeners []func(context.Context, Session)
}

// NewSessionStore starts logged out.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Current returns a copy of the session.
func (s *SessionStore) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Snapshot returns the session together with its generation. The generation
// moves whenever the logged-in identity or role changes, so a fetch that
// started under one generation can tell its result is stale.
func (s *SessionStore) Snapshot() (Session, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.gen
}

// Generation returns the current session generation.
func (s *SessionStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Subscribe registers fn to run after every Update.
func (s *SessionStore) Subscribe(fn func(context.Context, Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Update stores next and notifies subscribers outside the lock.
func (s *SessionStore) Update(ctx context.Context, next Session) {
	if !next.LoggedIn {
		next = Session{}
	}

	s.mu.Lock()
	if next != s.current {
		s.gen++
	}
	s.current = next
	listeners := make([]func(context.Context, Session), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, next)
	}
}
