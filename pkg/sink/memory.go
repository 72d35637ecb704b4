package sink

import (
	"context"
	"sync"

	"github.com/ajitpratap0/accretion/pkg/connector/core"
)

// MemorySink stores documents in process memory, deduplicating by ID the
// way a real indexing backend would. For development runs and tests; it
// counts calls and can inject failures to exercise retry paths.
type MemorySink struct {
	mu   sync.Mutex
	docs map[string]*core.Document

	upsertCalls  int
	docsReceived int

	failures []error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{docs: make(map[string]*core.Document)}
}

// Upsert implements Sink. Injected failures are consumed first, before
// any document is stored, so a failed call leaves the sink untouched.
func (s *MemorySink) Upsert(_ context.Context, batch *core.DocumentBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertCalls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return err
		}
	}

	for _, doc := range batch.Documents {
		copied := *doc
		s.docs[doc.ID] = &copied
		s.docsReceived++
	}
	return nil
}

// FailNextWith queues errors returned by upcoming Upsert calls, one per
// call, before normal behavior resumes. A nil entry lets that call
// succeed, so later calls can be targeted.
func (s *MemorySink) FailNextWith(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// UniqueCount returns the number of distinct documents stored.
func (s *MemorySink) UniqueCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// DocsReceived returns the total documents accepted, counting replays.
func (s *MemorySink) DocsReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docsReceived
}

// UpsertCalls returns how many times Upsert ran, including failed calls.
func (s *MemorySink) UpsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}

// Get returns the stored document with the given ID, or nil.
func (s *MemorySink) Get(id string) *core.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil
	}
	copied := *doc
	return &copied
}
