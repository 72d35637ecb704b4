package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. For development runs
// and tests; progress does not survive a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*Checkpoint)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ConnectorID] = cp.Clone()
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, connectorID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[connectorID]
	if !ok {
		return nil, nil
	}
	return cp.Clone(), nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, connectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, connectorID)
	return nil
}
