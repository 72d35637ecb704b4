package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/errors"
)

// ConfigStore provides read-only connector configuration. The coordinator
// and scheduler only ever read connectors; provisioning them is the
// operator's job (config file or the connectors table).
type ConfigStore interface {
	// Get returns the connector with the given ID, or a not-found error.
	Get(ctx context.Context, connectorID string) (*core.ConnectorConfig, error)

	// List returns all connectors ordered by ID.
	List(ctx context.Context) ([]*core.ConnectorConfig, error)
}

// StaticConfigStore serves connectors parsed from the config file. Also the
// memory backend for tests.
type StaticConfigStore struct {
	mu         sync.RWMutex
	connectors map[string]*core.ConnectorConfig
}

// NewStaticConfigStore builds a store from config file connector specs.
func NewStaticConfigStore(specs []config.ConnectorSpec) *StaticConfigStore {
	s := &StaticConfigStore{connectors: make(map[string]*core.ConnectorConfig, len(specs))}
	for _, spec := range specs {
		s.connectors[spec.ID] = specToConfig(spec)
	}
	return s
}

// Put adds or replaces a connector. Used by tests; production configs come
// from the constructor.
func (s *StaticConfigStore) Put(cfg *core.ConnectorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[cfg.ConnectorID] = cfg
}

// Get implements ConfigStore.
func (s *StaticConfigStore) Get(_ context.Context, connectorID string) (*core.ConnectorConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.connectors[connectorID]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "connector %s not configured", connectorID)
	}
	return cfg, nil
}

// List implements ConfigStore.
func (s *StaticConfigStore) List(_ context.Context) ([]*core.ConnectorConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.ConnectorConfig, 0, len(s.connectors))
	for _, cfg := range s.connectors {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	return out, nil
}

func specToConfig(spec config.ConnectorSpec) *core.ConnectorConfig {
	settings := make(map[string]string, len(spec.Settings))
	for k, v := range spec.Settings {
		settings[k] = v
	}
	return &core.ConnectorConfig{
		ConnectorID:   spec.ID,
		SourceKind:    spec.SourceKind,
		PollInterval:  spec.PollInterval,
		CredentialRef: spec.CredentialRef,
		Paused:        spec.Paused,
		Settings:      settings,
	}
}

const connectorSchema = `
CREATE TABLE IF NOT EXISTS connectors (
	connector_id          TEXT PRIMARY KEY,
	source_kind           TEXT    NOT NULL,
	poll_interval_seconds BIGINT  NOT NULL,
	credential_ref        TEXT    NOT NULL DEFAULT '',
	paused                BOOLEAN NOT NULL DEFAULT false,
	settings              JSONB   NOT NULL DEFAULT '{}'::jsonb
)`

// PostgresConfigStore reads connectors from the connectors table. The table
// is the system of record in multi-worker deployments; rows are written by
// provisioning tooling, never by this store.
type PostgresConfigStore struct {
	pool *pgxpool.Pool
}

// NewPostgresConfigStore creates the store and ensures its table exists.
func NewPostgresConfigStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresConfigStore, error) {
	if _, err := pool.Exec(ctx, connectorSchema); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ensure connectors table")
	}
	return &PostgresConfigStore{pool: pool}, nil
}

// Get implements ConfigStore.
func (s *PostgresConfigStore) Get(ctx context.Context, connectorID string) (*core.ConnectorConfig, error) {
	const q = connectorColumns + ` WHERE connector_id = $1`

	cfg, err := scanConnector(s.pool.QueryRow(ctx, q, connectorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "connector %s not configured", connectorID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connector lookup failed").
			WithDetail("connector_id", connectorID)
	}
	return cfg, nil
}

// List implements ConfigStore.
func (s *PostgresConfigStore) List(ctx context.Context) ([]*core.ConnectorConfig, error) {
	const q = connectorColumns + ` ORDER BY connector_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connector list query failed")
	}
	defer rows.Close()

	var out []*core.ConnectorConfig
	for rows.Next() {
		cfg, err := scanConnector(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connector row scan failed")
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connector rows iteration failed")
	}
	return out, nil
}

const connectorColumns = `
SELECT connector_id, source_kind, poll_interval_seconds, credential_ref, paused, settings
FROM connectors`

func scanConnector(row pgx.Row) (*core.ConnectorConfig, error) {
	var cfg core.ConnectorConfig
	var intervalSeconds int64
	if err := row.Scan(&cfg.ConnectorID, &cfg.SourceKind, &intervalSeconds,
		&cfg.CredentialRef, &cfg.Paused, &cfg.Settings); err != nil {
		return nil, err
	}
	cfg.PollInterval = time.Duration(intervalSeconds) * time.Second
	return &cfg, nil
}
