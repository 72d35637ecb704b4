package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/metrics"
)

// Janitor periodically fails attempts whose worker died. A crashed worker
// stops renewing its lease; once the lease is gone (or taken by someone
// else) the attempt it left pending or running can never finish, so the
// janitor marks it failed. This is what keeps "every attempt reaches a
// terminal status" true across worker crashes.
//
// Blocks until ctx is canceled. Any worker may run it; the sweep is
// idempotent.
func (c *Coordinator) Janitor(ctx context.Context, interval time.Duration) {
	c.logger.Info("janitor started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("janitor stopped")
			return
		case <-ticker.C:
			n, err := c.SweepOrphanedAttempts(ctx)
			if err != nil {
				c.logger.Warn("orphan sweep failed", zap.Error(err))
			} else if n > 0 {
				c.logger.Info("orphaned attempts marked failed", zap.Int("count", n))
			}
		}
	}
}

// SweepOrphanedAttempts marks non-terminal attempts with no backing lease
// as failed. Returns how many attempts it closed.
func (c *Coordinator) SweepOrphanedAttempts(ctx context.Context) (int, error) {
	active, err := c.attempts.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, a := range active {
		// Grace period: a fresh attempt may not have renewed yet.
		if time.Since(a.StartedAt) < c.leaseTTL {
			continue
		}

		l, err := c.leases.Get(ctx, a.ConnectorID)
		if err != nil {
			c.logger.Warn("lease lookup failed during sweep",
				zap.String("connector_id", a.ConnectorID), zap.Error(err))
			continue
		}
		if l != nil && l.WorkerID == a.WorkerID {
			continue // still owned by its worker
		}

		a.Status = StatusFailed
		a.EndedAt = time.Now().UTC()
		a.ErrorSummary = "worker lost lease before finishing"
		a.ErrorCategory = string(errors.ErrorTypeInternal)
		if err := c.attempts.Update(ctx, a); err != nil {
			c.logger.Warn("failed to mark orphaned attempt",
				zap.String("attempt_id", a.ID), zap.Error(err))
			continue
		}

		metrics.AttemptsTotal.WithLabelValues(a.ConnectorID, string(StatusFailed)).Inc()
		marked++
		c.logger.Warn("orphaned attempt marked failed",
			zap.String("connector_id", a.ConnectorID),
			zap.String("attempt_id", a.ID),
			zap.String("lost_worker_id", a.WorkerID))
	}
	return marked, nil
}
