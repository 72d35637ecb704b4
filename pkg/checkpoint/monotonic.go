package checkpoint

import (
	"context"
	"sync"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

// MonotonicStore wraps a Store and rejects saves that would move a
// connector's ordinal backwards. Re-saving the current ordinal is allowed:
// a retried save after an ambiguous failure must stay idempotent.
//
// The guard seeds itself from Load, so a worker that restarts mid-sync
// learns the stored high-water mark before its first save.
type MonotonicStore struct {
	inner Store

	mu      sync.Mutex
	highest map[string]uint64
}

// NewMonotonicStore wraps inner with the ordinal guard.
func NewMonotonicStore(inner Store) *MonotonicStore {
	return &MonotonicStore{
		inner:   inner,
		highest: make(map[string]uint64),
	}
}

// Save implements Store. A save with an ordinal below the highest seen
// for the connector fails with ErrStale and never reaches the backend.
func (s *MonotonicStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	if high, ok := s.highest[cp.ConnectorID]; ok && cp.Ordinal < high {
		s.mu.Unlock()
		return errors.Wrap(ErrStale, errors.ErrorTypeCheckpoint, "refusing to regress checkpoint").
			WithDetail("connector_id", cp.ConnectorID).
			WithDetail("ordinal", cp.Ordinal).
			WithDetail("stored_ordinal", high)
	}
	s.mu.Unlock()

	if err := s.inner.Save(ctx, cp); err != nil {
		return err
	}

	s.mu.Lock()
	if cp.Ordinal > s.highest[cp.ConnectorID] {
		s.highest[cp.ConnectorID] = cp.Ordinal
	}
	s.mu.Unlock()
	return nil
}

// Load implements Store and seeds the guard from the stored checkpoint.
func (s *MonotonicStore) Load(ctx context.Context, connectorID string) (*Checkpoint, error) {
	cp, err := s.inner.Load(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		s.mu.Lock()
		if cp.Ordinal > s.highest[connectorID] {
			s.highest[connectorID] = cp.Ordinal
		}
		s.mu.Unlock()
	}
	return cp, nil
}

// Clear implements Store and resets the guard: a cleared connector starts
// over from ordinal zero.
func (s *MonotonicStore) Clear(ctx context.Context, connectorID string) error {
	if err := s.inner.Clear(ctx, connectorID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.highest, connectorID)
	s.mu.Unlock()
	return nil
}
