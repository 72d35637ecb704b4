// Package dispatcher turns due connectors into running attempts. The
// scheduler decides when a connector should be indexed and enqueues an
// index task; the dispatcher consumes tasks, admits them against the
// concurrency and memory limits, and hands each admitted task to the
// coordinator as an attempt.
//
// A task is a hint, not a ledger entry. Losing one is harmless because
// the scheduler re-enqueues any connector that is still due on its next
// scan, and duplicates are harmless because the coordinator refuses to
// start a second attempt while the connector's lease is held.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/logger"
	"github.com/ajitpratap0/accretion/pkg/metrics"
)

// Task reasons, recorded on the envelope and on the TasksEnqueued metric.
const (
	// ReasonScheduled marks tasks enqueued by the scheduler's due scan.
	ReasonScheduled = "scheduled"
	// ReasonManual marks tasks enqueued by an operator trigger.
	ReasonManual = "manual"
)

// Task asks a worker to index one connector.
type Task struct {
	ConnectorID string    `json:"connector_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Handler processes one dequeued task. A non-nil error means the task
// was not handled; the queue logs it and moves on rather than redeliver,
// because the scheduler will re-enqueue the connector if it is still due.
type Handler func(ctx context.Context, task Task) error

// Queue carries index tasks from schedulers and operator triggers to
// dispatchers. Implementations must tolerate duplicate tasks.
type Queue interface {
	// Enqueue places a task on the queue, blocking while the queue is
	// full until ctx is done.
	Enqueue(ctx context.Context, task Task) error

	// Consume delivers tasks to handler until ctx is canceled or the
	// queue is closed. It returns nil on clean shutdown.
	Consume(ctx context.Context, handler Handler) error

	// Close releases the queue. Safe to call more than once.
	Close() error
}

// MemoryQueue is a buffered in-process queue for single-worker
// deployments and tests. Tasks do not survive a restart, which is fine:
// the scheduler rediscovers due connectors on its next scan.
type MemoryQueue struct {
	ch        chan Task
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewMemoryQueue returns a queue buffering up to size tasks. A size of
// zero or less falls back to 256.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{
		ch:     make(chan Task, size),
		done:   make(chan struct{}),
		logger: logger.Get().With(zap.String("component", "memory_queue")),
	}
}

// Enqueue places a task on the queue, blocking while the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-q.done:
		return errors.New(errors.ErrorTypeValidation, "queue is closed")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeCanceled, "enqueue canceled")
	case q.ch <- task:
		metrics.TasksEnqueued.WithLabelValues(task.Reason).Inc()
		q.setDepth()
		return nil
	}
}

// Consume delivers tasks to handler until ctx is canceled or the queue
// is closed. Handler errors are logged, not redelivered.
func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case task := <-q.ch:
			q.setDepth()
			if err := handler(ctx, task); err != nil {
				q.logger.Warn("task handler failed",
					zap.String("connector_id", task.ConnectorID),
					zap.Error(err))
			}
		}
	}
}

// Close unblocks consumers and rejects further enqueues.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *MemoryQueue) setDepth() {
	metrics.QueueDepth.WithLabelValues("memory").Set(float64(len(q.ch)))
}
