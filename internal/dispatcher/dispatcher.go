package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/internal/coordinator"
	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/logger"
	"github.com/ajitpratap0/accretion/pkg/metrics"
)

// Dispatcher consumes index tasks and runs them as attempts on a bounded
// worker pool. Admission is gated twice: the memory governor defers
// tasks while system memory sits above the watermark, and the
// coordinator's lease refuses connectors that are already running.
// Submitting to a full pool blocks the consumer, which is the
// backpressure that stops a worker from taking on more connectors than
// it can index.
type Dispatcher struct {
	cfg    config.DispatcherConfig
	coord  *coordinator.Coordinator
	queue  Queue
	pool   *ants.Pool
	logger *zap.Logger
	wg     sync.WaitGroup

	// memoryUsedPct is swapped out in tests.
	memoryUsedPct func() (float64, error)
}

// NewDispatcher builds a dispatcher over the coordinator and queue.
func NewDispatcher(cfg config.DispatcherConfig, coord *coordinator.Coordinator, queue Queue) (*Dispatcher, error) {
	log := logger.Get().With(zap.String("component", "dispatcher"))

	pool, err := ants.NewPool(cfg.MaxConcurrentAttempts, ants.WithPanicHandler(func(r interface{}) {
		log.Error("attempt task panicked", zap.Any("panic_value", r))
	}))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create attempt pool")
	}

	return &Dispatcher{
		cfg:           cfg,
		coord:         coord,
		queue:         queue,
		pool:          pool,
		logger:        log,
		memoryUsedPct: systemMemoryUsedPct,
	}, nil
}

// Run consumes tasks until ctx is canceled or the queue closes. Attempts
// run on ctx, not on the per-delivery context, so a Kafka rebalance does
// not cancel attempts mid-flight; only process shutdown does.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		zap.Int("max_concurrent_attempts", d.cfg.MaxConcurrentAttempts),
		zap.Float64("memory_watermark_pct", d.cfg.MemoryHighWatermarkPct))

	return d.queue.Consume(ctx, func(_ context.Context, task Task) error {
		return d.handle(ctx, task)
	})
}

// handle admits one task and submits its attempt to the pool. Skips
// (already running, paused, unknown connector) return nil so the queue
// does not treat them as handler failures.
func (d *Dispatcher) handle(ctx context.Context, task Task) error {
	log := d.logger.With(
		zap.String("connector_id", task.ConnectorID),
		zap.String("reason", task.Reason))

	if err := d.waitForMemory(ctx); err != nil {
		return err
	}

	attemptID, err := d.coord.StartAttempt(ctx, task.ConnectorID)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrAlreadyRunning):
			log.Debug("task skipped, attempt already running")
			return nil
		case errors.Is(err, coordinator.ErrPaused):
			log.Debug("task skipped, connector paused")
			return nil
		case errors.IsType(err, errors.ErrorTypeNotFound):
			log.Warn("dropping task for unknown connector")
			return nil
		default:
			return err
		}
	}

	d.wg.Add(1)
	if err := d.pool.Submit(func() {
		defer d.wg.Done()
		// Outcome logging happens when the attempt finalizes; an error
		// here is already recorded on the attempt row.
		if runErr := d.coord.RunAttempt(ctx, attemptID, task.ConnectorID); runErr != nil {
			log.Debug("attempt finished with error", zap.Error(runErr))
		}
	}); err != nil {
		d.wg.Done()
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to submit attempt to pool")
	}
	return nil
}

// waitForMemory blocks while system memory is above the watermark. A
// watermark of zero disables the governor; probe failures admit the task
// rather than stall the worker on a broken stat source.
func (d *Dispatcher) waitForMemory(ctx context.Context) error {
	if d.cfg.MemoryHighWatermarkPct <= 0 {
		return nil
	}

	for {
		used, err := d.memoryUsedPct()
		if err != nil {
			d.logger.Warn("memory probe failed, admitting task", zap.Error(err))
			return nil
		}
		if used < d.cfg.MemoryHighWatermarkPct {
			return nil
		}

		metrics.GovernorDeferrals.Inc()
		d.logger.Warn("memory above watermark, deferring task",
			zap.Float64("used_pct", used),
			zap.Float64("watermark_pct", d.cfg.MemoryHighWatermarkPct))

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeCanceled, "dispatcher stopping")
		case <-time.After(d.cfg.GovernorBackoff):
		}
	}
}

// Stop waits up to grace for in-flight attempts to finish, then releases
// the pool. Call after the Run context is canceled; attempts observe the
// cancellation at their next batch boundary, checkpoint what they have,
// and exit.
func (d *Dispatcher) Stop(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("all attempts drained")
	case <-time.After(grace):
		d.logger.Warn("shutdown grace expired with attempts still running",
			zap.Int("running", d.pool.Running()))
	}

	d.pool.Release()
}

func systemMemoryUsedPct() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}
