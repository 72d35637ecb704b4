package lease

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/logger"
)

const leaseSchema = `
CREATE TABLE IF NOT EXISTS connector_leases (
	connector_id TEXT PRIMARY KEY,
	worker_id    TEXT        NOT NULL,
	acquired_at  TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL
)`

// PostgresStore implements Store on a shared pgx pool. Every mutation is
// a single conditional statement, so concurrent workers race safely: the
// database decides who owns the lease, not the workers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates the store and ensures its table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, leaseSchema); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ensure lease table")
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.Get().With(zap.String("component", "lease_store")),
	}, nil
}

// Acquire implements Store. The upsert only overwrites a row that is
// expired or already owned by the caller; when the condition fails no row
// returns and the lease belongs to someone else.
func (s *PostgresStore) Acquire(ctx context.Context, connectorID, workerID string, ttl time.Duration) (*Lease, error) {
	const q = `
INSERT INTO connector_leases (connector_id, worker_id, acquired_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3))
ON CONFLICT (connector_id) DO UPDATE
SET worker_id = EXCLUDED.worker_id,
    acquired_at = EXCLUDED.acquired_at,
    expires_at = EXCLUDED.expires_at
WHERE connector_leases.expires_at <= now()
   OR connector_leases.worker_id = EXCLUDED.worker_id
RETURNING acquired_at, expires_at`

	l := &Lease{ConnectorID: connectorID, WorkerID: workerID}
	err := s.pool.QueryRow(ctx, q, connectorID, workerID, ttl.Seconds()).
		Scan(&l.AcquiredAt, &l.ExpiresAt)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "lease acquire query failed").
			WithDetail("connector_id", connectorID)
	}

	holder, expires := s.currentHolder(ctx, connectorID)
	return nil, errors.Wrap(ErrConflict, errors.ErrorTypeConflict, "acquire refused").
		WithDetail("connector_id", connectorID).
		WithDetail("holder", holder).
		WithDetail("expires_at", expires)
}

// Renew implements Store.
func (s *PostgresStore) Renew(ctx context.Context, connectorID, workerID string, ttl time.Duration) (*Lease, error) {
	const q = `
UPDATE connector_leases
SET expires_at = now() + make_interval(secs => $3)
WHERE connector_id = $1 AND worker_id = $2 AND expires_at > now()
RETURNING acquired_at, expires_at`

	l := &Lease{ConnectorID: connectorID, WorkerID: workerID}
	err := s.pool.QueryRow(ctx, q, connectorID, workerID, ttl.Seconds()).
		Scan(&l.AcquiredAt, &l.ExpiresAt)
	if err == nil {
		return l, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(ErrConflict, errors.ErrorTypeConflict, "renew refused").
			WithDetail("connector_id", connectorID).
			WithDetail("worker_id", workerID)
	}
	return nil, errors.Wrap(err, errors.ErrorTypeConnection, "lease renew query failed").
		WithDetail("connector_id", connectorID)
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, connectorID, workerID string) error {
	const q = `DELETE FROM connector_leases WHERE connector_id = $1 AND worker_id = $2`

	if _, err := s.pool.Exec(ctx, q, connectorID, workerID); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "lease release query failed").
			WithDetail("connector_id", connectorID)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, connectorID string) (*Lease, error) {
	const q = `
SELECT worker_id, acquired_at, expires_at
FROM connector_leases
WHERE connector_id = $1 AND expires_at > now()`

	l := &Lease{ConnectorID: connectorID}
	err := s.pool.QueryRow(ctx, q, connectorID).
		Scan(&l.WorkerID, &l.AcquiredAt, &l.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "lease lookup failed").
			WithDetail("connector_id", connectorID)
	}
	return l, nil
}

func (s *PostgresStore) currentHolder(ctx context.Context, connectorID string) (string, time.Time) {
	const q = `SELECT worker_id, expires_at FROM connector_leases WHERE connector_id = $1`

	var holder string
	var expires time.Time
	if err := s.pool.QueryRow(ctx, q, connectorID).Scan(&holder, &expires); err != nil {
		s.logger.Debug("holder lookup after conflict failed", zap.Error(err))
		return "", time.Time{}
	}
	return holder, expires
}
