package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

// AttemptStore persists attempt rows. Backends: Postgres (the system of
// record) and memory (tests, single-node dev).
type AttemptStore interface {
	// Create inserts a new attempt. The ID must be unused.
	Create(ctx context.Context, a *Attempt) error

	// Update overwrites an existing attempt by ID.
	Update(ctx context.Context, a *Attempt) error

	// Get returns the attempt with the given ID.
	Get(ctx context.Context, attemptID string) (*Attempt, error)

	// Latest returns the most recently started attempt for a connector, or
	// (nil, nil) when the connector has never run.
	Latest(ctx context.Context, connectorID string) (*Attempt, error)

	// List returns up to limit attempts for a connector, newest first.
	List(ctx context.Context, connectorID string, limit int) ([]*Attempt, error)

	// ListActive returns every attempt not yet terminal (pending or
	// running), across all connectors. The janitor scans these for lost
	// workers.
	ListActive(ctx context.Context) ([]*Attempt, error)
}

// MemoryAttemptStore keeps attempts in process memory.
type MemoryAttemptStore struct {
	mu   sync.RWMutex
	byID map[string]*Attempt
	seq  map[string]int // insertion order, breaks StartedAt ties
	next int
}

// NewMemoryAttemptStore returns an empty in-memory attempt store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		byID: make(map[string]*Attempt),
		seq:  make(map[string]int),
	}
}

// Create inserts a new attempt.
func (s *MemoryAttemptStore) Create(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[a.ID]; ok {
		return errors.Newf(errors.ErrorTypeInternal, "attempt %s already exists", a.ID)
	}
	s.byID[a.ID] = a.Clone()
	s.seq[a.ID] = s.next
	s.next++
	return nil
}

// Update overwrites an existing attempt.
func (s *MemoryAttemptStore) Update(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[a.ID]; !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "attempt %s not found", a.ID)
	}
	s.byID[a.ID] = a.Clone()
	return nil
}

// Get returns the attempt with the given ID.
func (s *MemoryAttemptStore) Get(_ context.Context, attemptID string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[attemptID]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "attempt %s not found", attemptID)
	}
	return a.Clone(), nil
}

// Latest returns the newest attempt for a connector, or (nil, nil).
func (s *MemoryAttemptStore) Latest(ctx context.Context, connectorID string) (*Attempt, error) {
	attempts, err := s.List(ctx, connectorID, 1)
	if err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, nil
	}
	return attempts[0], nil
}

// List returns up to limit attempts for a connector, newest first.
func (s *MemoryAttemptStore) List(_ context.Context, connectorID string, limit int) ([]*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Attempt
	for _, a := range s.byID {
		if a.ConnectorID == connectorID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListActive returns every non-terminal attempt across connectors.
func (s *MemoryAttemptStore) ListActive(_ context.Context) ([]*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Attempt
	for _, a := range s.byID {
		if !a.Status.Terminal() {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out, nil
}
