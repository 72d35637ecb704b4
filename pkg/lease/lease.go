// Package lease provides single-writer admission for connectors.
//
// At most one worker syncs a connector at a time. The lease is a row with
// a TTL: acquiring is a conditional write that succeeds only when the row
// is absent, expired, or already owned by the caller. Holders renew after
// every committed batch; a crashed worker simply stops renewing and the
// lease expires on its own, so crash recovery needs no coordination.
//
// A held lease means "a worker believes it is syncing this connector". It
// does not fence the checkpoint store; ordering protection there comes
// from the checkpoint ordinal.
package lease

import (
	"context"
	"time"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

// Lease records current ownership of a connector's sync work.
type Lease struct {
	ConnectorID string    `json:"connector_id"`
	WorkerID    string    `json:"worker_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Remaining returns how long until expiry at the given instant.
func (l *Lease) Remaining(now time.Time) time.Duration {
	return l.ExpiresAt.Sub(now)
}

// ErrConflict marks an acquire or renew blocked by a live lease held
// elsewhere. It is an expected outcome, not a failure: callers skip the
// connector and move on.
var ErrConflict = errors.New(errors.ErrorTypeConflict, "connector lease held by another worker")

// Store manages connector leases.
type Store interface {
	// Acquire takes the lease for connectorID. It succeeds when no live
	// lease exists or the caller already holds it (refreshing the TTL).
	// A live lease held elsewhere fails with ErrConflict.
	Acquire(ctx context.Context, connectorID, workerID string, ttl time.Duration) (*Lease, error)

	// Renew extends a lease the caller holds. Fails with ErrConflict when
	// the lease expired or another worker took it.
	Renew(ctx context.Context, connectorID, workerID string, ttl time.Duration) (*Lease, error)

	// Release drops the caller's lease. Releasing a lease no longer held
	// is a no-op.
	Release(ctx context.Context, connectorID, workerID string) error

	// Get returns the live lease for connectorID, or (nil, nil) when none
	// exists or it has expired.
	Get(ctx context.Context, connectorID string) (*Lease, error)
}
