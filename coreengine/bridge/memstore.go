package bridge

import (
	"context"
	"sync"
)

// MemorySessionStore is an in-memory commbus.SessionStore. Snapshots are
// deep-copied on Put and Get so callers never share map references.
// Thread-safe.
type MemorySessionStore struct {
	mu        sync.RWMutex
	snapshots map[string]map[string]any
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{snapshots: make(map[string]map[string]any)}
}

// Put stores a snapshot, replacing any previous one for the session.
func (s *MemorySessionStore) Put(ctx context.Context, sessionID string, snapshot map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sessionID] = copySnapshot(snapshot)
	return nil
}

// Get returns the snapshot for a session, or nil when absent.
func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snapshot, exists := s.snapshots[sessionID]; exists {
		return copySnapshot(snapshot), nil
	}
	return nil, nil
}

// Delete removes a snapshot. Returns true if one existed.
func (s *MemorySessionStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[sessionID]; !exists {
		return false, nil
	}
	delete(s.snapshots, sessionID)
	return true, nil
}

// List returns the stored session ids.
func (s *MemorySessionStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	return ids, nil
}

func copySnapshot(snapshot map[string]any) map[string]any {
	out := make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	return out
}
