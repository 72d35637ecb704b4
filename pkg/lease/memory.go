package lease

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

// MemoryStore keeps leases in process memory with the same conditional
// semantics as the Postgres store. For development runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]*Lease

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]*Lease),
		now:    time.Now,
	}
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, connectorID, workerID string, ttl time.Duration) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.leases[connectorID]; ok && cur.ExpiresAt.After(now) && cur.WorkerID != workerID {
		return nil, errors.Wrap(ErrConflict, errors.ErrorTypeConflict, "acquire refused").
			WithDetail("connector_id", connectorID).
			WithDetail("holder", cur.WorkerID).
			WithDetail("expires_at", cur.ExpiresAt)
	}

	l := &Lease{
		ConnectorID: connectorID,
		WorkerID:    workerID,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
	s.leases[connectorID] = l
	out := *l
	return &out, nil
}

// Renew implements Store.
func (s *MemoryStore) Renew(_ context.Context, connectorID, workerID string, ttl time.Duration) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cur, ok := s.leases[connectorID]
	if !ok || !cur.ExpiresAt.After(now) || cur.WorkerID != workerID {
		return nil, errors.Wrap(ErrConflict, errors.ErrorTypeConflict, "renew refused").
			WithDetail("connector_id", connectorID).
			WithDetail("worker_id", workerID)
	}

	cur.ExpiresAt = now.Add(ttl)
	out := *cur
	return &out, nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, connectorID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.leases[connectorID]; ok && cur.WorkerID == workerID {
		delete(s.leases, connectorID)
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, connectorID string) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.leases[connectorID]
	if !ok || !cur.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	out := *cur
	return &out, nil
}
