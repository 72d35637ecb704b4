package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/internal/coordinator"
	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/lease"
	"github.com/ajitpratap0/accretion/pkg/logger"
	"github.com/ajitpratap0/accretion/pkg/metrics"
)

// Scheduler periodically scans the connector catalog and enqueues an
// index task for every connector whose poll interval has elapsed since
// its last attempt ended. It only suggests work; admission control stays
// with the dispatcher and the coordinator's lease.
type Scheduler struct {
	cfg        config.SchedulerConfig
	connectors coordinator.ConfigStore
	attempts   coordinator.AttemptStore
	leases     lease.Store
	queue      Queue
	logger     *zap.Logger

	mu           sync.Mutex
	lastEnqueued map[string]time.Time
}

// NewScheduler builds a scheduler over the given stores and queue.
func NewScheduler(cfg config.SchedulerConfig, connectors coordinator.ConfigStore, attempts coordinator.AttemptStore, leases lease.Store, queue Queue) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		connectors:   connectors,
		attempts:     attempts,
		leases:       leases,
		queue:        queue,
		logger:       logger.Get().With(zap.String("component", "scheduler")),
		lastEnqueued: make(map[string]time.Time),
	}
}

// Run scans for due connectors until ctx is canceled. The first scan
// runs immediately so a fresh worker does not idle a full interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("check_interval", s.cfg.CheckInterval),
		zap.Duration("dedup_window", s.cfg.DedupWindow))

	s.scanAndLog(ctx)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.scanAndLog(ctx)
		}
	}
}

func (s *Scheduler) scanAndLog(ctx context.Context) {
	n, err := s.Scan(ctx)
	if err != nil {
		s.logger.Warn("scheduler scan failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("scheduler scan finished", zap.Int("enqueued", n))
	}
}

// Scan evaluates every connector once and returns how many tasks it
// enqueued. Exported so an operator trigger endpoint or a test can force
// a scan without waiting for the ticker.
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	cfgs, err := s.connectors.List(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	s.pruneDedup(now)

	enqueued := 0
	for _, cfg := range cfgs {
		due, reason, err := s.evaluate(ctx, cfg, now)
		if err != nil {
			s.logger.Warn("connector evaluation failed",
				zap.String("connector_id", cfg.ConnectorID),
				zap.Error(err))
			continue
		}
		if !due {
			metrics.SchedulerSkips.WithLabelValues(reason).Inc()
			continue
		}

		task := Task{ConnectorID: cfg.ConnectorID, Reason: ReasonScheduled, RequestedAt: now}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			s.logger.Warn("failed to enqueue task",
				zap.String("connector_id", cfg.ConnectorID),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.lastEnqueued[cfg.ConnectorID] = now
		s.mu.Unlock()

		s.logger.Debug("connector due, task enqueued",
			zap.String("connector_id", cfg.ConnectorID))
		enqueued++
	}
	return enqueued, nil
}

// evaluate decides whether one connector is due. The reason names why it
// is not, using the SchedulerSkips label values.
func (s *Scheduler) evaluate(ctx context.Context, cfg *core.ConnectorConfig, now time.Time) (bool, string, error) {
	if cfg.Paused {
		return false, "paused", nil
	}

	s.mu.Lock()
	last, seen := s.lastEnqueued[cfg.ConnectorID]
	s.mu.Unlock()
	if seen && now.Sub(last) < s.cfg.DedupWindow {
		return false, "deduped", nil
	}

	l, err := s.leases.Get(ctx, cfg.ConnectorID)
	if err != nil {
		return false, "", err
	}
	if l != nil {
		return false, "leased", nil
	}

	latest, err := s.attempts.Latest(ctx, cfg.ConnectorID)
	if err != nil {
		return false, "", err
	}
	if !Due(cfg, latest, now) {
		return false, "not_due", nil
	}

	return true, "", nil
}

// Due reports whether the connector's poll interval has elapsed at now.
// An abandoned attempt has no EndedAt yet; it is measured from its start
// so it stops blocking once the interval passes. Lease and pause state
// are checked separately.
func Due(cfg *core.ConnectorConfig, latest *coordinator.Attempt, now time.Time) bool {
	if latest == nil {
		return true
	}
	ref := latest.EndedAt
	if ref.IsZero() {
		ref = latest.StartedAt
	}
	return now.Sub(ref) >= cfg.PollInterval
}

// pruneDedup drops dedup entries old enough to no longer matter.
func (s *Scheduler) pruneDedup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.lastEnqueued {
		if now.Sub(at) >= s.cfg.DedupWindow {
			delete(s.lastEnqueued, id)
		}
	}
}
