package repository

import (
	"context"
	"sync"
	"time"

	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
)

// Ensure MemorySessionStore implements SessionStore
var _ ports.SessionStore = (*MemorySessionStore)(nil)

// sessionEntry pairs a session with its own mutex so concurrent updates to
// the same session serialize without blocking other sessions.
type sessionEntry struct {
	mu   sync.Mutex
	sess *domain.Session
}

// MemorySessionStore is a concurrency-safe keyed session map. The outer
// RWMutex only guards the map structure; per-session mutation happens under
// the entry lock. Sessions are created lazily on first reference and only
// ever marked inactive, never removed.
type MemorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		entries: make(map[string]*sessionEntry),
	}
}

// Get returns a copy of the session, or domain.ErrSessionNotFound.
func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copySession(entry.sess), nil
}

// Mutate applies fn under the per-session lock, creating the session lazily
// when the ID is unknown. Returns a copy of the resulting session.
func (s *MemorySessionStore) Mutate(ctx context.Context, sessionID string, fn func(*domain.Session)) (*domain.Session, error) {
	entry := s.getOrCreate(sessionID)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.sess)
	return copySession(entry.sess), nil
}

// Deactivate marks a session inactive. Unknown sessions are an error: there
// is nothing to deactivate.
func (s *MemorySessionStore) Deactivate(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.sess.Active = false
	entry.sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemorySessionStore) getOrCreate(sessionID string) *sessionEntry {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check: another goroutine may have created it between the locks.
	if entry, ok = s.entries[sessionID]; ok {
		return entry
	}

	now := time.Now()
	entry = &sessionEntry{
		sess: &domain.Session{
			ID:         sessionID,
			AuthStatus: domain.AuthNone,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	s.entries[sessionID] = entry
	return entry
}

// copySession returns a deep copy so callers never share slices with the
// stored session.
func copySession(s *domain.Session) *domain.Session {
	out := *s
	out.TopicsDiscussed = append([]string(nil), s.TopicsDiscussed...)
	out.RecentMessages = append([]string(nil), s.RecentMessages...)
	return &out
}
