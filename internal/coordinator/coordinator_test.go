package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/accretion/internal/testutil"
	"github.com/ajitpratap0/accretion/pkg/checkpoint"
	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/credentials"
	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/lease"
	"github.com/ajitpratap0/accretion/pkg/logger"
	"github.com/ajitpratap0/accretion/pkg/sink"
)

func init() {
	_ = logger.Init(logger.Config{Level: "error", Encoding: "console"})
}

const testConnector = "wiki-prod"

// harness wires a Coordinator against memory backends and a scripted
// fetcher. The checkpoint backend is kept separate from the monotonic
// wrapper so tests can inspect what actually got persisted.
type harness struct {
	fetcher     *testutil.ScriptedFetcher
	sink        *sink.MemorySink
	backend     *checkpoint.MemoryStore
	checkpoints *checkpoint.MonotonicStore
	leases      *lease.MemoryStore
	attempts    *MemoryAttemptStore
	configs     *StaticConfigStore
	resolver    *credentials.StaticResolver
	coord       *Coordinator
}

func newHarness(t *testing.T, steps ...testutil.Step) *harness {
	t.Helper()

	h := &harness{
		fetcher:  testutil.NewScriptedFetcher(steps...),
		sink:     sink.NewMemorySink(),
		backend:  checkpoint.NewMemoryStore(),
		leases:   lease.NewMemoryStore(),
		attempts: NewMemoryAttemptStore(),
		configs:  NewStaticConfigStore(nil),
		resolver: credentials.NewStaticResolver(map[string]map[string]string{
			"vault-wiki": {"api_token": "tok-123"},
		}),
	}
	h.checkpoints = checkpoint.NewMonotonicStore(h.backend)
	h.configs.Put(&core.ConnectorConfig{
		ConnectorID:  testConnector,
		SourceKind:   "scripted",
		PollInterval: time.Minute,
	})
	h.coord = h.newCoordinator(t, nil)
	return h
}

// newCoordinator builds a Coordinator over the harness stores, with fast
// deterministic retries. mutate adjusts Deps before construction.
func (h *harness) newCoordinator(t *testing.T, mutate func(*Deps)) *Coordinator {
	t.Helper()

	deps := Deps{
		WorkerID: "worker-1",
		LeaseTTL: time.Minute,
		Retry: config.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
		Attempts:    h.attempts,
		Connectors:  h.configs,
		Checkpoints: h.checkpoints,
		Leases:      h.leases,
		Resolver:    h.resolver,
		Sink:        h.sink,
		CreateFetcher: func(*core.ConnectorConfig) (core.Fetcher, error) {
			return h.fetcher, nil
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	c, err := New(deps)
	require.NoError(t, err)
	return c
}

func (h *harness) runOnce(t *testing.T, ctx context.Context) (string, error) {
	t.Helper()
	id, err := h.coord.StartAttempt(ctx, testConnector)
	require.NoError(t, err)
	return id, h.coord.RunAttempt(ctx, id, testConnector)
}

func (h *harness) attempt(t *testing.T, id string) *Attempt {
	t.Helper()
	a, err := h.attempts.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) storedCheckpoint(t *testing.T) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := h.backend.Load(context.Background(), testConnector)
	require.NoError(t, err)
	return cp
}

func (h *harness) liveLease(t *testing.T) *lease.Lease {
	t.Helper()
	l, err := h.leases.Get(context.Background(), testConnector)
	require.NoError(t, err)
	return l
}

func TestRunAttemptColdSweep(t *testing.T) {
	h := newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 50)},
		testutil.Step{Docs: testutil.GenDocs("b", 50)},
		testutil.Step{Docs: testutil.GenDocs("c", 20), Final: true},
	)
	ctx := context.Background()

	id, err := h.runOnce(t, ctx)
	require.NoError(t, err)

	a := h.attempt(t, id)
	assert.Equal(t, StatusSucceeded, a.Status)
	assert.Equal(t, int64(120), a.DocumentsProcessed)
	assert.Equal(t, "worker-1", a.WorkerID)
	assert.False(t, a.EndedAt.IsZero())
	assert.Empty(t, a.ErrorSummary)
	assert.Empty(t, a.ErrorCategory)

	// Every document reached the sink exactly once
	assert.Equal(t, 120, h.sink.UniqueCount())
	assert.Equal(t, 120, h.sink.DocsReceived())
	assert.Equal(t, 3, h.sink.UpsertCalls())

	// The checkpoint advanced once per committed batch and records the
	// attempt that wrote it
	cp := h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(3), cp.Ordinal)
	assert.Equal(t, testutil.StepCursor(3), cp.Cursor)
	assert.Equal(t, int64(120), cp.DocumentsProcessed)
	assert.Equal(t, id, cp.AttemptID)

	// The fetcher walked the script front to back
	assert.Equal(t, []core.Cursor{nil, testutil.StepCursor(1), testutil.StepCursor(2)}, h.fetcher.Cursors())
	assert.Equal(t, 1, h.fetcher.OpenCount())
	assert.Equal(t, 1, h.fetcher.CloseCount())

	// Lease released, status visible through the coordinator
	assert.Nil(t, h.liveLease(t))
	latest, err := h.coord.GetAttemptStatus(ctx, testConnector)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, latest.ID)
}

func TestRunAttemptResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 50)},
		testutil.Step{Docs: testutil.GenDocs("b", 50)},
		testutil.Step{Docs: testutil.GenDocs("c", 20), Final: true},
	)
	ctx := context.Background()

	// A previous attempt committed the first two batches
	require.NoError(t, h.checkpoints.Save(ctx, &checkpoint.Checkpoint{
		ConnectorID:        testConnector,
		AttemptID:          "attempt-prior",
		Cursor:             testutil.StepCursor(2),
		Ordinal:            2,
		DocumentsProcessed: 100,
		UpdatedAt:          time.Now().UTC(),
	}))

	id, err := h.runOnce(t, ctx)
	require.NoError(t, err)

	// Only the unfinished tail of the script was fetched
	assert.Equal(t, []core.Cursor{testutil.StepCursor(2)}, h.fetcher.Cursors())
	assert.Equal(t, 20, h.sink.UniqueCount())

	a := h.attempt(t, id)
	assert.Equal(t, StatusSucceeded, a.Status)
	assert.Equal(t, int64(120), a.DocumentsProcessed)

	cp := h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(3), cp.Ordinal)
	assert.Equal(t, id, cp.AttemptID, "resumed attempt takes over the checkpoint")
}

func TestRunAttemptCredentialFailureStopsWithoutRetry(t *testing.T) {
	h := newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 50)},
		testutil.Step{Docs: testutil.GenDocs("b", 50)},
		testutil.Step{Docs: testutil.GenDocs("c", 20), Final: true},
	)
	ctx := context.Background()

	// First upsert succeeds, second hits a revoked token
	h.sink.FailNextWith(nil, errors.New(errors.ErrorTypeCredential, "sink token expired"))

	id, err := h.runOnce(t, ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCredential))

	a := h.attempt(t, id)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Equal(t, "credential", a.ErrorCategory)
	assert.Contains(t, a.ErrorSummary, "sink token expired")
	assert.Equal(t, int64(50), a.DocumentsProcessed)

	// No retry happened: one successful call, one failed call
	assert.Equal(t, 2, h.sink.UpsertCalls())
	assert.Equal(t, 50, h.sink.UniqueCount())

	// Progress through batch one is preserved for the next attempt
	cp := h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(1), cp.Ordinal)
	assert.Equal(t, testutil.StepCursor(1), cp.Cursor)

	assert.Nil(t, h.liveLease(t))
}

func TestRunAttemptRetriesTransientFetch(t *testing.T) {
	h := newHarness(t,
		testutil.Step{
			Errs:  []error{errors.New(errors.ErrorTypeConnection, "source reset")},
			Docs:  testutil.GenDocs("a", 2),
			Final: true,
		},
	)

	id, err := h.runOnce(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, h.attempt(t, id).Status)
	// Two fetch calls at the same position: the failed try and the retry
	assert.Equal(t, []core.Cursor{nil, nil}, h.fetcher.Cursors())
	assert.Equal(t, 1, h.sink.UpsertCalls())
}

func TestFailedAttemptResumesWhereItLeft(t *testing.T) {
	connErr := errors.New(errors.ErrorTypeConnection, "source unreachable")
	h := newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 50)},
		testutil.Step{Errs: []error{connErr, connErr, connErr}, Docs: testutil.GenDocs("b", 50)},
		testutil.Step{Docs: testutil.GenDocs("c", 20), Final: true},
	)
	ctx := context.Background()

	// Attempt one commits batch one, then exhausts its fetch retries
	id1, err := h.runOnce(t, ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	a1 := h.attempt(t, id1)
	assert.Equal(t, StatusFailed, a1.Status)
	assert.Equal(t, "connection", a1.ErrorCategory)
	assert.Contains(t, a1.ErrorSummary, "failed after 3 attempts")
	assert.Equal(t, int64(50), a1.DocumentsProcessed)

	cp := h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(1), cp.Ordinal)

	// Attempt two picks up at the failed position; the source recovered
	id2, err := h.runOnce(t, ctx)
	require.NoError(t, err)

	a2 := h.attempt(t, id2)
	assert.Equal(t, StatusSucceeded, a2.Status)
	assert.Equal(t, int64(120), a2.DocumentsProcessed)

	// Batch one was never fetched or upserted twice
	assert.Equal(t, 120, h.sink.UniqueCount())
	assert.Equal(t, 120, h.sink.DocsReceived())
	cursors := h.fetcher.Cursors()
	require.Len(t, cursors, 6)
	assert.Equal(t, testutil.StepCursor(1), cursors[4], "second attempt resumed mid-script")
	assert.Equal(t, testutil.StepCursor(2), cursors[5])

	list, err := h.coord.ListAttempts(ctx, testConnector, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].ID, "newest first")
}

// flakyCheckpointStore injects save failures in front of a real store.
// A nil entry lets that save through.
type flakyCheckpointStore struct {
	checkpoint.Store
	mu       sync.Mutex
	failures []error
}

func (s *flakyCheckpointStore) failNextWith(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *flakyCheckpointStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	var err error
	if len(s.failures) > 0 {
		err = s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Save(ctx, cp)
}

func TestCheckpointSaveFailureReplaysBatch(t *testing.T) {
	h := newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 50)},
		testutil.Step{Docs: testutil.GenDocs("b", 50)},
		testutil.Step{Docs: testutil.GenDocs("c", 20), Final: true},
	)
	ctx := context.Background()

	flaky := &flakyCheckpointStore{Store: h.checkpoints}
	h.coord = h.newCoordinator(t, func(d *Deps) { d.Checkpoints = flaky })

	// Batch two lands in the sink but its checkpoint save fails
	flaky.failNextWith(nil, errors.New(errors.ErrorTypeCheckpoint, "checkpoint write refused"))

	id1, err := h.runOnce(t, ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCheckpoint))
	assert.Equal(t, StatusFailed, h.attempt(t, id1).Status)

	cp := h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(1), cp.Ordinal, "unsaved batch does not count")

	// The next attempt replays batch two; the duplicate upsert is absorbed
	// by document identity
	id2, err := h.runOnce(t, ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, h.attempt(t, id2).Status)

	assert.Equal(t, 120, h.sink.UniqueCount())
	assert.Equal(t, 170, h.sink.DocsReceived(), "batch two upserted twice")

	cp = h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(3), cp.Ordinal)
}

func TestFullResyncClearsCheckpoint(t *testing.T) {
	h := newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 2)},
		testutil.Step{Docs: testutil.GenDocs("b", 2), Final: true},
	)
	ctx := context.Background()

	_, err := h.runOnce(t, ctx)
	require.NoError(t, err)
	require.NotNil(t, h.storedCheckpoint(t))

	require.NoError(t, h.coord.RequestFullResync(ctx, testConnector))
	assert.Nil(t, h.storedCheckpoint(t))

	// The next attempt walks the whole script again
	_, err = h.runOnce(t, ctx)
	require.NoError(t, err)

	cursors := h.fetcher.Cursors()
	require.Len(t, cursors, 4)
	assert.Equal(t, core.Cursor(nil), cursors[2], "resync starts from the beginning")
	assert.Equal(t, 4, h.sink.UniqueCount())
	assert.Equal(t, 8, h.sink.DocsReceived())
}

func TestFullResyncRefusedWhileLeaseHeld(t *testing.T) {
	h := newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 2)},
		testutil.Step{Docs: testutil.GenDocs("b", 2), Final: true},
	)
	ctx := context.Background()

	_, err := h.runOnce(t, ctx)
	require.NoError(t, err)

	_, err = h.leases.Acquire(ctx, testConnector, "worker-2", time.Minute)
	require.NoError(t, err)

	err = h.coord.RequestFullResync(ctx, testConnector)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	assert.NotNil(t, h.storedCheckpoint(t), "refused resync leaves the checkpoint alone")

	require.NoError(t, h.leases.Release(ctx, testConnector, "worker-2"))
	require.NoError(t, h.coord.RequestFullResync(ctx, testConnector))
	assert.Nil(t, h.storedCheckpoint(t))
}

func TestStartAttemptSecondWorkerRefused(t *testing.T) {
	h := newHarness(t, testutil.Step{Docs: testutil.GenDocs("a", 1), Final: true})
	ctx := context.Background()

	id, err := h.coord.StartAttempt(ctx, testConnector)
	require.NoError(t, err)

	w2 := h.newCoordinator(t, func(d *Deps) { d.WorkerID = "worker-2" })
	_, err = w2.StartAttempt(ctx, testConnector)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	// No second row was created
	list, err := h.attempts.List(ctx, testConnector, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Finishing the attempt frees the connector for the other worker
	require.NoError(t, h.coord.RunAttempt(ctx, id, testConnector))
	_, err = w2.StartAttempt(ctx, testConnector)
	require.NoError(t, err)
}

func TestStartAttemptLeaseExclusivity(t *testing.T) {
	h := newHarness(t, testutil.Step{Docs: testutil.GenDocs("a", 1), Final: true})
	ctx := context.Background()

	workers := make([]*Coordinator, 8)
	for i := range workers {
		id := fmt.Sprintf("worker-%d", i)
		workers[i] = h.newCoordinator(t, func(d *Deps) { d.WorkerID = id })
	}

	var mu sync.Mutex
	var winners, conflicts int
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(c *Coordinator) {
			defer wg.Done()
			_, err := c.StartAttempt(ctx, testConnector)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrAlreadyRunning):
				conflicts++
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 7, conflicts)

	active, err := h.attempts.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCancelStopsAtBatchBoundary(t *testing.T) {
	var h *harness
	h = newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 10)},
		testutil.Step{
			Docs:    testutil.GenDocs("b", 10),
			OnFetch: func() { h.coord.Cancel(testConnector) },
		},
		testutil.Step{Docs: testutil.GenDocs("c", 10), Final: true},
	)
	ctx := context.Background()

	id, err := h.runOnce(t, ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCanceled))
	assert.True(t, errors.Is(err, context.Canceled))

	// The batch in flight when the cancel arrived still committed
	a := h.attempt(t, id)
	assert.Equal(t, StatusCanceled, a.Status)
	assert.Equal(t, int64(20), a.DocumentsProcessed)
	assert.Empty(t, a.ErrorSummary)
	assert.Empty(t, a.ErrorCategory)

	cp := h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(2), cp.Ordinal)
	assert.Equal(t, 20, h.sink.UniqueCount())

	assert.Nil(t, h.liveLease(t))
	assert.False(t, h.coord.Cancel(testConnector), "nothing left to cancel")
}

func TestCancelWithoutRunningAttempt(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.coord.Cancel(testConnector))
	assert.False(t, h.coord.Cancel("ghost"))
}

func TestRunAttemptLeaseLossAborts(t *testing.T) {
	ctx := context.Background()
	var h *harness
	h = newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 5)},
		testutil.Step{
			Docs: testutil.GenDocs("b", 5),
			OnFetch: func() {
				// Another worker took over mid-sweep
				require.NoError(t, h.leases.Release(ctx, testConnector, "worker-1"))
				_, err := h.leases.Acquire(ctx, testConnector, "worker-9", time.Minute)
				require.NoError(t, err)
			},
		},
		testutil.Step{Docs: testutil.GenDocs("c", 5), Final: true},
	)

	id, err := h.runOnce(t, ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lease.ErrConflict))

	a := h.attempt(t, id)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Equal(t, "conflict", a.ErrorCategory)
	assert.Contains(t, a.ErrorSummary, "lost connector lease")

	// Batch two had already committed before the renew was refused: the
	// checkpoint is not fenced by the lease, the ordinal guards it instead
	cp := h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(2), cp.Ordinal)

	// Finalize must not release the other worker's lease
	l := h.liveLease(t)
	require.NotNil(t, l)
	assert.Equal(t, "worker-9", l.WorkerID)
}

func TestStartAttemptPausedConnector(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.configs.Put(&core.ConnectorConfig{
		ConnectorID:  testConnector,
		SourceKind:   "scripted",
		PollInterval: time.Minute,
		Paused:       true,
	})

	_, err := h.coord.StartAttempt(ctx, testConnector)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPaused))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	// Nothing was created or locked
	latest, err := h.attempts.Latest(ctx, testConnector)
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.Nil(t, h.liveLease(t))
}

func TestStartAttemptUnknownConnector(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.StartAttempt(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRunAttemptResolvesCredentials(t *testing.T) {
	h := newHarness(t, testutil.Step{Docs: testutil.GenDocs("a", 1), Final: true})
	ctx := context.Background()

	h.configs.Put(&core.ConnectorConfig{
		ConnectorID:   testConnector,
		SourceKind:    "scripted",
		PollInterval:  time.Minute,
		CredentialRef: "vault-wiki",
	})

	id, err := h.runOnce(t, ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, h.attempt(t, id).Status)
	assert.Equal(t, "tok-123", h.fetcher.Creds().Get("api_token"))
}

func TestRunAttemptUnknownCredentialRef(t *testing.T) {
	h := newHarness(t, testutil.Step{Docs: testutil.GenDocs("a", 1), Final: true})
	ctx := context.Background()

	h.configs.Put(&core.ConnectorConfig{
		ConnectorID:   testConnector,
		SourceKind:    "scripted",
		PollInterval:  time.Minute,
		CredentialRef: "vault-gone",
	})

	id, err := h.runOnce(t, ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCredential))

	a := h.attempt(t, id)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Equal(t, "credential", a.ErrorCategory)

	// The attempt died before touching the source or the sink
	assert.Equal(t, 0, h.fetcher.OpenCount())
	assert.Equal(t, 0, h.sink.UpsertCalls())
	assert.Nil(t, h.storedCheckpoint(t))
	assert.Nil(t, h.liveLease(t))
}

func TestRunAttemptEmptyBatchAdvancesCursor(t *testing.T) {
	h := newHarness(t,
		testutil.Step{Docs: testutil.GenDocs("a", 2)},
		testutil.Step{}, // a page of deletions or filtered documents
		testutil.Step{Docs: testutil.GenDocs("c", 1), Final: true},
	)

	id, err := h.runOnce(t, context.Background())
	require.NoError(t, err)

	a := h.attempt(t, id)
	assert.Equal(t, StatusSucceeded, a.Status)
	assert.Equal(t, int64(3), a.DocumentsProcessed)

	// The empty batch skipped the sink but still moved the checkpoint
	assert.Equal(t, 2, h.sink.UpsertCalls())
	cp := h.storedCheckpoint(t)
	require.NotNil(t, cp)
	assert.Equal(t, uint64(3), cp.Ordinal)
}

func TestRunAttemptRecoversPanic(t *testing.T) {
	h := newHarness(t,
		testutil.Step{OnFetch: func() { panic("boom") }},
	)

	id, err := h.runOnce(t, context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))

	a := h.attempt(t, id)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Equal(t, "internal", a.ErrorCategory)
	assert.Contains(t, a.ErrorSummary, "attempt panicked: boom")
	assert.Nil(t, h.liveLease(t), "panic still releases the lease")
}

func TestRunAttemptUnknownAttempt(t *testing.T) {
	h := newHarness(t)
	err := h.coord.RunAttempt(context.Background(), "no-such-attempt", testConnector)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSweepOrphanedAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-10 * time.Minute)

	// Worker gone, lease expired: orphan
	require.NoError(t, h.attempts.Create(ctx, &Attempt{
		ID: "orphan-running", ConnectorID: "conn-a", WorkerID: "worker-dead",
		Status: StatusRunning, StartedAt: old,
	}))
	// Worker gone before it ever ran: also an orphan
	require.NoError(t, h.attempts.Create(ctx, &Attempt{
		ID: "orphan-pending", ConnectorID: "conn-b", WorkerID: "worker-dead",
		Status: StatusPending, StartedAt: old,
	}))
	// Lease now held by a different worker: orphan
	require.NoError(t, h.attempts.Create(ctx, &Attempt{
		ID: "orphan-usurped", ConnectorID: "conn-c", WorkerID: "worker-old",
		Status: StatusRunning, StartedAt: old,
	}))
	_, err := h.leases.Acquire(ctx, "conn-c", "worker-new", time.Minute)
	require.NoError(t, err)
	// Still owned: kept
	require.NoError(t, h.attempts.Create(ctx, &Attempt{
		ID: "owned", ConnectorID: "conn-d", WorkerID: "worker-1",
		Status: StatusRunning, StartedAt: old,
	}))
	_, err = h.leases.Acquire(ctx, "conn-d", "worker-1", time.Minute)
	require.NoError(t, err)
	// Fresh attempt inside the grace period: kept even without a lease
	require.NoError(t, h.attempts.Create(ctx, &Attempt{
		ID: "fresh", ConnectorID: "conn-e", WorkerID: "worker-2",
		Status: StatusRunning, StartedAt: time.Now().UTC(),
	}))

	n, err := h.coord.SweepOrphanedAttempts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []string{"orphan-running", "orphan-pending", "orphan-usurped"} {
		a := h.attempt(t, id)
		assert.Equal(t, StatusFailed, a.Status, id)
		assert.Equal(t, "worker lost lease before finishing", a.ErrorSummary, id)
		assert.Equal(t, "internal", a.ErrorCategory, id)
		assert.False(t, a.EndedAt.IsZero(), id)
	}
	assert.Equal(t, StatusRunning, h.attempt(t, "owned").Status)
	assert.Equal(t, StatusRunning, h.attempt(t, "fresh").Status)

	// A second sweep finds nothing new
	n, err = h.coord.SweepOrphanedAttempts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJanitorRunsUntilCanceled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.attempts.Create(ctx, &Attempt{
		ID: "stale", ConnectorID: "conn-a", WorkerID: "worker-dead",
		Status: StatusRunning, StartedAt: time.Now().UTC().Add(-10 * time.Minute),
	}))

	done := make(chan struct{})
	go func() {
		h.coord.Janitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		a, err := h.attempts.Get(context.Background(), "stale")
		return err == nil && a.Status == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop on context cancel")
	}
}

func TestNewValidatesDeps(t *testing.T) {
	h := newHarness(t)

	valid := Deps{
		WorkerID:    "worker-1",
		LeaseTTL:    time.Minute,
		Attempts:    h.attempts,
		Connectors:  h.configs,
		Checkpoints: h.checkpoints,
		Leases:      h.leases,
		Resolver:    h.resolver,
		Sink:        h.sink,
	}

	_, err := New(valid)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing worker id", func(d *Deps) { d.WorkerID = "" }},
		{"zero lease ttl", func(d *Deps) { d.LeaseTTL = 0 }},
		{"nil attempts", func(d *Deps) { d.Attempts = nil }},
		{"nil connectors", func(d *Deps) { d.Connectors = nil }},
		{"nil checkpoints", func(d *Deps) { d.Checkpoints = nil }},
		{"nil leases", func(d *Deps) { d.Leases = nil }},
		{"nil resolver", func(d *Deps) { d.Resolver = nil }},
		{"nil sink", func(d *Deps) { d.Sink = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := valid
			tt.mutate(&deps)
			_, err := New(deps)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}
