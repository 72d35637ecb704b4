package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accretion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	t.Setenv("ACCRETION_CHECKPOINTS_BACKEND", "memory")
	t.Setenv("ACCRETION_DATABASE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Checkpoints.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Worker.LeaseTTL)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "accretion.index-tasks", cfg.Queue.Topic)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
checkpoints:
  backend: memory
database:
  backend: memory
queue:
  backend: kafka
  brokers:
    - broker-1:9092
    - broker-2:9092
scheduler:
  check_interval: 45s
connectors:
  - id: wiki-prod
    source_kind: httpapi
    poll_interval: 10m
    credential_ref: wiki-token
    settings:
      base_url: https://wiki.example.com/api/v2/pages
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "kafka", cfg.Queue.Backend)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Queue.Brokers)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.CheckInterval)
	require.Len(t, cfg.Connectors, 1)
	assert.Equal(t, "wiki-prod", cfg.Connectors[0].ID)
	assert.Equal(t, 10*time.Minute, cfg.Connectors[0].PollInterval)
	assert.Equal(t, "https://wiki.example.com/api/v2/pages", cfg.Connectors[0].Settings["base_url"])

	// Unset keys keep their defaults
	assert.Equal(t, 2*time.Minute, cfg.Worker.LeaseTTL)
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_WIKI_TOKEN", "tok-123")

	path := writeConfigFile(t, `
checkpoints:
  backend: memory
database:
  backend: memory
credentials:
  static:
    wiki-token:
      api_token: ${TEST_WIKI_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Credentials.Static["wiki-token"]["api_token"])
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("ACCRETION_WORKER_LEASE_TTL", "90s")

	path := writeConfigFile(t, `
checkpoints:
  backend: memory
database:
  backend: memory
worker:
  lease_ttl: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Worker.LeaseTTL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := NewConfig()
		cfg.Checkpoints.Backend = "memory"
		cfg.Database.Backend = "memory"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid memory setup",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown checkpoint backend",
			mutate:  func(c *Config) { c.Checkpoints.Backend = "tape" },
			wantErr: "checkpoints.backend",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Checkpoints.Backend = "s3"; c.Checkpoints.Bucket = "" },
			wantErr: "checkpoints.bucket",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Database.Backend = "postgres" },
			wantErr: "database.dsn",
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *Config) { c.Queue.Backend = "kafka" },
			wantErr: "queue.brokers",
		},
		{
			name:    "zero pool size",
			mutate:  func(c *Config) { c.Dispatcher.MaxConcurrentAttempts = 0 },
			wantErr: "max_concurrent_attempts",
		},
		{
			name:    "connector without poll interval",
			mutate:  func(c *Config) { c.Connectors = []ConnectorSpec{{ID: "a", SourceKind: "httpapi"}} },
			wantErr: "poll_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_SUB_A", "alpha")

	in := []byte("a: ${TEST_SUB_A}\nb: ${TEST_SUB_UNSET}\nc: plain")
	out := string(substituteEnvVars(in))
	assert.Equal(t, "a: alpha\nb: \nc: plain", out)
}
