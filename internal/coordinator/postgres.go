package coordinator

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

const attemptSchema = `
CREATE TABLE IF NOT EXISTS index_attempts (
	id                  TEXT PRIMARY KEY,
	connector_id        TEXT        NOT NULL,
	worker_id           TEXT        NOT NULL,
	status              TEXT        NOT NULL,
	started_at          TIMESTAMPTZ NOT NULL,
	ended_at            TIMESTAMPTZ,
	error_summary       TEXT        NOT NULL DEFAULT '',
	error_category      TEXT        NOT NULL DEFAULT '',
	documents_processed BIGINT      NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS index_attempts_connector_started
	ON index_attempts (connector_id, started_at DESC)`

// PostgresAttemptStore persists attempts on a shared pgx pool.
type PostgresAttemptStore struct {
	pool *pgxpool.Pool
}

// NewPostgresAttemptStore creates the store and ensures its table exists.
func NewPostgresAttemptStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresAttemptStore, error) {
	if _, err := pool.Exec(ctx, attemptSchema); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ensure attempt table")
	}
	return &PostgresAttemptStore{pool: pool}, nil
}

// Create implements AttemptStore.
func (s *PostgresAttemptStore) Create(ctx context.Context, a *Attempt) error {
	const q = `
INSERT INTO index_attempts
	(id, connector_id, worker_id, status, started_at, ended_at, error_summary, error_category, documents_processed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		a.ID, a.ConnectorID, a.WorkerID, string(a.Status), a.StartedAt,
		nullableTime(a.EndedAt), a.ErrorSummary, a.ErrorCategory, a.DocumentsProcessed)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "attempt insert failed").
			WithDetail("attempt_id", a.ID)
	}
	return nil
}

// Update implements AttemptStore.
func (s *PostgresAttemptStore) Update(ctx context.Context, a *Attempt) error {
	const q = `
UPDATE index_attempts
SET status = $2, ended_at = $3, error_summary = $4, error_category = $5, documents_processed = $6
WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		a.ID, string(a.Status), nullableTime(a.EndedAt),
		a.ErrorSummary, a.ErrorCategory, a.DocumentsProcessed)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "attempt update failed").
			WithDetail("attempt_id", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrorTypeNotFound, "attempt %s not found", a.ID)
	}
	return nil
}

// Get implements AttemptStore.
func (s *PostgresAttemptStore) Get(ctx context.Context, attemptID string) (*Attempt, error) {
	const q = attemptColumns + ` WHERE id = $1`

	a, err := scanAttempt(s.pool.QueryRow(ctx, q, attemptID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "attempt %s not found", attemptID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "attempt lookup failed").
			WithDetail("attempt_id", attemptID)
	}
	return a, nil
}

// Latest implements AttemptStore.
func (s *PostgresAttemptStore) Latest(ctx context.Context, connectorID string) (*Attempt, error) {
	const q = attemptColumns + `
WHERE connector_id = $1
ORDER BY started_at DESC
LIMIT 1`

	a, err := scanAttempt(s.pool.QueryRow(ctx, q, connectorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "latest attempt lookup failed").
			WithDetail("connector_id", connectorID)
	}
	return a, nil
}

// List implements AttemptStore.
func (s *PostgresAttemptStore) List(ctx context.Context, connectorID string, limit int) ([]*Attempt, error) {
	const q = attemptColumns + `
WHERE connector_id = $1
ORDER BY started_at DESC
LIMIT $2`

	rows, err := s.pool.Query(ctx, q, connectorID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "attempt list query failed").
			WithDetail("connector_id", connectorID)
	}
	defer rows.Close()

	return collectAttempts(rows)
}

// ListActive implements AttemptStore.
func (s *PostgresAttemptStore) ListActive(ctx context.Context) ([]*Attempt, error) {
	const q = attemptColumns + ` WHERE status IN ($1, $2) ORDER BY started_at`

	rows, err := s.pool.Query(ctx, q, string(StatusPending), string(StatusRunning))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "active attempt query failed")
	}
	defer rows.Close()

	return collectAttempts(rows)
}

const attemptColumns = `
SELECT id, connector_id, worker_id, status, started_at, ended_at, error_summary, error_category, documents_processed
FROM index_attempts`

func scanAttempt(row pgx.Row) (*Attempt, error) {
	var a Attempt
	var status string
	var endedAt *time.Time
	err := row.Scan(&a.ID, &a.ConnectorID, &a.WorkerID, &status, &a.StartedAt,
		&endedAt, &a.ErrorSummary, &a.ErrorCategory, &a.DocumentsProcessed)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	if endedAt != nil {
		a.EndedAt = *endedAt
	}
	return &a, nil
}

func collectAttempts(rows pgx.Rows) ([]*Attempt, error) {
	var out []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "attempt row scan failed")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "attempt rows iteration failed")
	}
	return out, nil
}

// nullableTime maps the zero time onto SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
