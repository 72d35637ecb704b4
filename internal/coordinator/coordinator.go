// Package coordinator runs indexing attempts: it owns the fetch/upsert/
// checkpoint loop, the attempt lifecycle, and the lease that keeps a
// connector on a single worker.
//
// The commit order inside the loop is the package's one hard rule: a batch's
// documents land in the sink before its checkpoint is saved. A crash between
// the two replays the batch on the next attempt, which is safe because the
// sink upserts by document ID. The checkpoint ordinal only ever advances;
// MonotonicStore rejects anything else.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/checkpoint"
	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/connector/registry"
	"github.com/ajitpratap0/accretion/pkg/credentials"
	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/lease"
	"github.com/ajitpratap0/accretion/pkg/logger"
	"github.com/ajitpratap0/accretion/pkg/metrics"
	"github.com/ajitpratap0/accretion/pkg/observability"
	"github.com/ajitpratap0/accretion/pkg/sink"
)

// ErrAlreadyRunning marks a start or resync refused because a live lease
// says another attempt owns the connector.
var ErrAlreadyRunning = errors.New(errors.ErrorTypeConflict, "an attempt is already running for this connector")

// ErrPaused marks a start refused because the connector is paused.
var ErrPaused = errors.New(errors.ErrorTypeValidation, "connector is paused")

// commitOpTimeout bounds a single sink or checkpoint call once it has been
// detached from attempt cancellation.
const commitOpTimeout = 2 * time.Minute

// fetcherCloseTimeout bounds the fetcher teardown at attempt end.
const fetcherCloseTimeout = 10 * time.Second

// Deps wires a Coordinator's collaborators. All stores are required;
// CreateFetcher and Tracer default to the global registry and tracer.
type Deps struct {
	WorkerID string
	LeaseTTL time.Duration
	Retry    config.RetryConfig

	Attempts    AttemptStore
	Connectors  ConfigStore
	Checkpoints checkpoint.Store
	Leases      lease.Store
	Resolver    credentials.Resolver
	Sink        sink.Sink

	CreateFetcher registry.FetcherFactory
	Tracer        *observability.AttemptTracer
}

// Coordinator drives indexing attempts for this worker.
type Coordinator struct {
	workerID string
	leaseTTL time.Duration
	retry    *RetryPolicy

	attempts    AttemptStore
	connectors  ConfigStore
	checkpoints checkpoint.Store
	leases      lease.Store
	resolver    credentials.Resolver
	sink        sink.Sink

	createFetcher registry.FetcherFactory
	tracer        *observability.AttemptTracer
	logger        *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Coordinator from its dependencies.
func New(deps Deps) (*Coordinator, error) {
	switch {
	case deps.WorkerID == "":
		return nil, errors.New(errors.ErrorTypeConfig, "coordinator requires a worker ID")
	case deps.LeaseTTL <= 0:
		return nil, errors.New(errors.ErrorTypeConfig, "coordinator requires a positive lease TTL")
	case deps.Attempts == nil || deps.Connectors == nil || deps.Checkpoints == nil ||
		deps.Leases == nil || deps.Resolver == nil || deps.Sink == nil:
		return nil, errors.New(errors.ErrorTypeConfig, "coordinator requires all stores, a resolver, and a sink")
	}

	if deps.CreateFetcher == nil {
		deps.CreateFetcher = registry.Create
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NewAttemptTracer()
	}

	return &Coordinator{
		workerID:      deps.WorkerID,
		leaseTTL:      deps.LeaseTTL,
		retry:         PolicyFromConfig(deps.Retry),
		attempts:      deps.Attempts,
		connectors:    deps.Connectors,
		checkpoints:   deps.Checkpoints,
		leases:        deps.Leases,
		resolver:      deps.Resolver,
		sink:          deps.Sink,
		createFetcher: deps.CreateFetcher,
		tracer:        deps.Tracer,
		logger:        logger.Get().With(zap.String("component", "coordinator"), zap.String("worker_id", deps.WorkerID)),
		cancels:       make(map[string]context.CancelFunc),
	}, nil
}

// StartAttempt admits a new attempt for a connector: it takes the lease and
// creates a pending attempt row. A live lease held elsewhere returns
// ErrAlreadyRunning and leaves no row behind.
func (c *Coordinator) StartAttempt(ctx context.Context, connectorID string) (string, error) {
	cfg, err := c.connectors.Get(ctx, connectorID)
	if err != nil {
		return "", err
	}
	if cfg.Paused {
		return "", errors.Wrap(ErrPaused, errors.ErrorTypeValidation, "refusing to start attempt").
			WithDetail("connector_id", connectorID)
	}

	if _, err := c.leases.Acquire(ctx, connectorID, c.workerID, c.leaseTTL); err != nil {
		if errors.Is(err, lease.ErrConflict) {
			metrics.LeaseConflicts.WithLabelValues(connectorID).Inc()
			c.logger.Debug("lease held elsewhere", zap.String("connector_id", connectorID), zap.Error(err))
			return "", errors.Wrap(ErrAlreadyRunning, errors.ErrorTypeConflict, "lease held by another worker").
				WithDetail("connector_id", connectorID)
		}
		return "", err
	}

	attempt := &Attempt{
		ID:          uuid.NewString(),
		ConnectorID: connectorID,
		WorkerID:    c.workerID,
		Status:      StatusPending,
		StartedAt:   time.Now().UTC(),
	}
	if err := c.attempts.Create(ctx, attempt); err != nil {
		_ = c.leases.Release(context.WithoutCancel(ctx), connectorID, c.workerID)
		return "", err
	}

	c.logger.Info("attempt created",
		zap.String("connector_id", connectorID),
		zap.String("attempt_id", attempt.ID))
	return attempt.ID, nil
}

// RunAttempt drives one attempt to a terminal status. It always finalizes:
// the attempt row reaches succeeded, failed, or canceled, and the lease is
// released, even on panic or a canceled context.
func (c *Coordinator) RunAttempt(ctx context.Context, attemptID, connectorID string) (err error) {
	attempt, err := c.attempts.Get(ctx, attemptID)
	if err != nil {
		_ = c.leases.Release(context.WithoutCancel(ctx), connectorID, c.workerID)
		return err
	}

	// base survives cancellation: finalization and the lease release must
	// run after the attempt's own context is gone.
	base := context.WithoutCancel(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.registerCancel(connectorID, cancel)
	defer c.removeCancel(connectorID)

	runCtx = logger.ContextWithAttempt(runCtx, connectorID, attemptID, c.workerID)
	log := logger.WithContext(runCtx)

	runCtx, span := c.tracer.StartAttempt(runCtx, connectorID, attemptID)

	metrics.ActiveAttempts.Inc()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrorTypeInternal, "attempt panicked: %v", r)
			log.Error("attempt panicked", zap.Any("panic_value", r), zap.Stack("stack"))
		}
		c.finalize(base, log, span, attempt, started, err)
		metrics.ActiveAttempts.Dec()
	}()

	attempt.Status = StatusRunning
	if err = c.attempts.Update(runCtx, attempt); err != nil {
		return err
	}
	log.Info("attempt running")

	err = c.run(runCtx, log, attempt)
	return err
}

// run executes the fetch/upsert/checkpoint loop. It returns nil only when
// the fetcher reports the end of its sweep.
func (c *Coordinator) run(ctx context.Context, log *zap.Logger, attempt *Attempt) error {
	cfg, err := c.connectors.Get(ctx, attempt.ConnectorID)
	if err != nil {
		return err
	}

	creds, err := c.resolveCredentials(ctx, cfg)
	if err != nil {
		return err
	}

	var cp *checkpoint.Checkpoint
	err = c.retry.Execute(ctx, "checkpoint load", func() error {
		var lerr error
		cp, lerr = c.checkpoints.Load(ctx, attempt.ConnectorID)
		return lerr
	})
	if err != nil {
		return err
	}

	cursor := core.Cursor(nil)
	ordinal := uint64(0)
	if cp != nil {
		cursor = cp.Cursor
		ordinal = cp.Ordinal
		attempt.DocumentsProcessed = cp.DocumentsProcessed
		log.Info("resuming from checkpoint",
			zap.Uint64("ordinal", ordinal),
			zap.Int64("documents_processed", cp.DocumentsProcessed),
			zap.String("written_by_attempt", cp.AttemptID))
	} else {
		log.Info("no checkpoint, starting from the beginning")
	}

	fetcher, err := c.createFetcher(cfg)
	if err != nil {
		return err
	}
	if err := fetcher.Open(ctx, creds); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), fetcherCloseTimeout)
		defer cancelClose()
		if cerr := fetcher.Close(closeCtx); cerr != nil {
			log.Warn("fetcher close failed", zap.Error(cerr))
		}
	}()

	throughput := metrics.NewThroughputTracker(attempt.ConnectorID)

	for {
		// Cancellation is observed here, at the batch boundary. Committed
		// work stays checkpointed.
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeCanceled, "attempt canceled at batch boundary")
		default:
		}

		batchStart := time.Now()
		bctx, bspan := c.tracer.StartBatch(ctx, ordinal+1)

		result, err := c.fetchBatch(bctx, fetcher, cursor)
		if err != nil {
			c.tracer.EndBatch(bctx, bspan, attempt.ConnectorID, 0, err)
			return err
		}

		size := result.Batch.Len()
		if size > 0 {
			if err := c.upsertBatch(bctx, result.Batch); err != nil {
				c.tracer.EndBatch(bctx, bspan, attempt.ConnectorID, size, err)
				return err
			}
		}

		ordinal++
		attempt.DocumentsProcessed += int64(size)

		if err := c.saveCheckpoint(bctx, attempt, result.NextCursor, ordinal); err != nil {
			c.tracer.EndBatch(bctx, bspan, attempt.ConnectorID, size, err)
			return err
		}

		if err := c.renewLease(bctx, attempt.ConnectorID); err != nil {
			c.tracer.EndBatch(bctx, bspan, attempt.ConnectorID, size, err)
			return err
		}

		metrics.BatchesCommitted.WithLabelValues(attempt.ConnectorID).Inc()
		metrics.DocumentsProcessed.WithLabelValues(attempt.ConnectorID).Add(float64(size))
		metrics.BatchCommitDuration.WithLabelValues(attempt.ConnectorID).Observe(time.Since(batchStart).Seconds())
		throughput.Increment(int64(size))
		c.tracer.EndBatch(bctx, bspan, attempt.ConnectorID, size, nil)
		log.Debug("batch committed",
			zap.Uint64("ordinal", ordinal),
			zap.Int("documents", size),
			zap.Duration("duration", time.Since(batchStart)))

		cursor = result.NextCursor
		if result.Final {
			throughput.GetAndReset()
			log.Info("sweep complete",
				zap.Uint64("ordinal", ordinal),
				zap.Int64("documents_processed", attempt.DocumentsProcessed))
			return nil
		}
	}
}

// resolveCredentials resolves the connector's credential ref. An empty ref
// means a public source and resolves to empty credentials.
func (c *Coordinator) resolveCredentials(ctx context.Context, cfg *core.ConnectorConfig) (credentials.Credentials, error) {
	if cfg.CredentialRef == "" {
		return credentials.Credentials{}, nil
	}
	return c.resolver.Resolve(ctx, cfg.CredentialRef)
}

// fetchBatch pulls the next batch, retrying transient source failures.
// Re-fetching from the same cursor is safe: fetchers tolerate replays.
func (c *Coordinator) fetchBatch(ctx context.Context, fetcher core.Fetcher, cursor core.Cursor) (*core.FetchResult, error) {
	var result *core.FetchResult
	err := c.retry.Execute(ctx, "fetch", func() error {
		var ferr error
		result, ferr = fetcher.Fetch(ctx, cursor)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New(errors.ErrorTypeData, "fetcher returned no result and no error")
	}
	return result, nil
}

// upsertBatch writes a batch to the sink with bounded retry. Each try runs
// detached from attempt cancellation so an in-flight upsert completes;
// cancellation takes effect between tries and at the batch boundary.
func (c *Coordinator) upsertBatch(ctx context.Context, batch *core.DocumentBatch) error {
	return c.retry.Execute(ctx, "sink upsert", func() error {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitOpTimeout)
		defer cancel()
		return c.sink.Upsert(opCtx, batch)
	})
}

// saveCheckpoint persists progress after the batch's documents have landed.
func (c *Coordinator) saveCheckpoint(ctx context.Context, attempt *Attempt, cursor core.Cursor, ordinal uint64) error {
	cp := &checkpoint.Checkpoint{
		ConnectorID:        attempt.ConnectorID,
		AttemptID:          attempt.ID,
		Cursor:             cursor,
		Ordinal:            ordinal,
		DocumentsProcessed: attempt.DocumentsProcessed,
		UpdatedAt:          time.Now().UTC(),
	}

	err := c.retry.Execute(ctx, "checkpoint save", func() error {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitOpTimeout)
		defer cancel()
		return c.checkpoints.Save(opCtx, cp)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, checkpoint.ErrStale) {
			result = "stale"
		}
		metrics.CheckpointSaves.WithLabelValues(attempt.ConnectorID, result).Inc()
		return err
	}

	metrics.CheckpointSaves.WithLabelValues(attempt.ConnectorID, "ok").Inc()
	return nil
}

// renewLease extends ownership after a committed batch. Losing the lease
// aborts the attempt: another worker may legitimately own the connector now.
func (c *Coordinator) renewLease(ctx context.Context, connectorID string) error {
	err := c.retry.Execute(ctx, "lease renew", func() error {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitOpTimeout)
		defer cancel()
		_, rerr := c.leases.Renew(opCtx, connectorID, c.workerID, c.leaseTTL)
		return rerr
	})
	if err != nil {
		if errors.Is(err, lease.ErrConflict) {
			return errors.Wrap(err, errors.ErrorTypeConflict, "lost connector lease").
				WithDetail("connector_id", connectorID)
		}
		return err
	}
	return nil
}

// finalize records the terminal status, releases the lease, and emits the
// attempt's closing metrics, span, and log line.
func (c *Coordinator) finalize(ctx context.Context, log *zap.Logger, span oteltrace.Span, attempt *Attempt, started time.Time, runErr error) {
	var status Status
	switch {
	case runErr == nil:
		status = StatusSucceeded
	case errors.IsType(runErr, errors.ErrorTypeCanceled):
		status = StatusCanceled
	default:
		status = StatusFailed
	}

	attempt.Status = status
	attempt.EndedAt = time.Now().UTC()
	if status == StatusFailed {
		attempt.ErrorSummary = summarizeError(runErr)
		attempt.ErrorCategory = categoryOf(runErr)
	}

	fctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Status first, lease second: once the row is terminal the janitor has
	// nothing to misread between the two writes.
	if err := c.attempts.Update(fctx, attempt); err != nil {
		log.Error("failed to record terminal attempt status", zap.Error(err))
	}
	if err := c.leases.Release(fctx, attempt.ConnectorID, c.workerID); err != nil {
		log.Warn("lease release failed", zap.Error(err))
	}

	if attempt.ErrorCategory == string(errors.ErrorTypeCredential) {
		metrics.CredentialFailures.WithLabelValues(attempt.ConnectorID).Inc()
	}
	metrics.AttemptsTotal.WithLabelValues(attempt.ConnectorID, string(status)).Inc()
	metrics.AttemptDuration.WithLabelValues(attempt.ConnectorID, string(status)).Observe(time.Since(started).Seconds())
	c.tracer.EndAttempt(ctx, span, attempt.ConnectorID, string(status), attempt.DocumentsProcessed, runErr)

	switch status {
	case StatusSucceeded:
		log.Info("attempt succeeded",
			zap.Int64("documents_processed", attempt.DocumentsProcessed),
			zap.Duration("duration", time.Since(started)))
	case StatusCanceled:
		log.Warn("attempt canceled",
			zap.Int64("documents_processed", attempt.DocumentsProcessed),
			zap.Duration("duration", time.Since(started)))
	default:
		log.Error("attempt failed",
			zap.String("category", attempt.ErrorCategory),
			zap.Int64("documents_processed", attempt.DocumentsProcessed),
			zap.Duration("duration", time.Since(started)),
			zap.Error(runErr))
	}
}

// Cancel requests cooperative cancellation of the connector's running
// attempt on this worker. Returns false when no attempt is running here.
func (c *Coordinator) Cancel(connectorID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cancel, ok := c.cancels[connectorID]
	if ok {
		cancel()
	}
	return ok
}

// GetAttemptStatus returns the connector's most recent attempt, or
// (nil, nil) when it has never run.
func (c *Coordinator) GetAttemptStatus(ctx context.Context, connectorID string) (*Attempt, error) {
	return c.attempts.Latest(ctx, connectorID)
}

// ListAttempts returns recent attempts for a connector, newest first.
func (c *Coordinator) ListAttempts(ctx context.Context, connectorID string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	return c.attempts.List(ctx, connectorID, limit)
}

// RequestFullResync clears the connector's checkpoint so the next attempt
// starts from the beginning. Refused while a live lease exists: clearing
// under a running attempt would race its next save.
func (c *Coordinator) RequestFullResync(ctx context.Context, connectorID string) error {
	l, err := c.leases.Get(ctx, connectorID)
	if err != nil {
		return err
	}
	if l != nil {
		return errors.Wrap(ErrAlreadyRunning, errors.ErrorTypeConflict, "refusing full resync during a live attempt").
			WithDetail("connector_id", connectorID).
			WithDetail("holder", l.WorkerID)
	}

	if err := c.checkpoints.Clear(ctx, connectorID); err != nil {
		return err
	}

	metrics.FullResyncs.WithLabelValues(connectorID).Inc()
	c.logger.Info("full resync requested, checkpoint cleared",
		zap.String("connector_id", connectorID))
	return nil
}

func (c *Coordinator) registerCancel(connectorID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[connectorID] = cancel
}

func (c *Coordinator) removeCancel(connectorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, connectorID)
}
