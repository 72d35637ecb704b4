package config

import (
	"fmt"
	"os"
	"runtime"
	"time"
)

// Config is the top-level configuration for an accretion worker process.
type Config struct {
	// Worker identifies this process and bounds its concurrency
	Worker WorkerConfig `yaml:"worker" json:"worker"`

	// Checkpoints configures the durable checkpoint store
	Checkpoints CheckpointStoreConfig `yaml:"checkpoints" json:"checkpoints"`

	// Database configures the attempt, lease, and connector stores
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Queue configures the task queue backend
	Queue QueueConfig `yaml:"queue" json:"queue"`

	// Scheduler controls when connectors become due
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Dispatcher controls task admission and the worker pool
	Dispatcher DispatcherConfig `yaml:"dispatcher" json:"dispatcher"`

	// Retry bounds backoff for transient upsert and checkpoint failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Ops configures the operator HTTP endpoint
	Ops OpsConfig `yaml:"ops" json:"ops"`

	// Observability settings for tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Credentials configures the credential resolver
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`

	// Sink configures the document sink endpoint
	Sink SinkConfig `yaml:"sink" json:"sink"`

	// Connectors lists statically configured connectors. Used by the file
	// connector store; deployments backed by Postgres leave this empty.
	Connectors []ConnectorSpec `yaml:"connectors" json:"connectors"`
}

// WorkerConfig identifies the worker and bounds its work.
type WorkerConfig struct {
	// ID uniquely identifies this worker in lease rows. Defaults to
	// hostname-pid when empty.
	ID string `yaml:"id" json:"id"`
	// LeaseTTL is how long an acquired lease lives without renewal
	LeaseTTL time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
	// ShutdownGrace bounds how long Stop waits for running attempts
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
}

// CheckpointStoreConfig selects and configures the checkpoint backend.
type CheckpointStoreConfig struct {
	// Backend is one of "s3", "gcs", "memory"
	Backend string `yaml:"backend" json:"backend"`
	// Bucket holding checkpoint objects
	Bucket string `yaml:"bucket" json:"bucket"`
	// Prefix namespaces checkpoint keys inside the bucket
	Prefix string `yaml:"prefix" json:"prefix"`
	// Region for S3
	Region string `yaml:"region" json:"region"`
	// Endpoint overrides the S3 endpoint (MinIO, localstack)
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// ProjectID for GCS
	ProjectID string `yaml:"project_id" json:"project_id"`
	// CredentialsFile for GCS service accounts
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// Compression algorithm for checkpoint payloads (zstd, lz4, snappy, gzip, none)
	Compression string `yaml:"compression" json:"compression"`
	// CompressionLevel 1-9
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
}

// DatabaseConfig configures the relational stores.
type DatabaseConfig struct {
	// Backend is one of "postgres", "memory"
	Backend string `yaml:"backend" json:"backend"`
	// DSN is the Postgres connection string
	DSN string `yaml:"dsn" json:"dsn"`
	// MaxConns bounds the pgx pool
	MaxConns int32 `yaml:"max_conns" json:"max_conns"`
}

// QueueConfig configures the task queue.
type QueueConfig struct {
	// Backend is one of "kafka", "memory"
	Backend string `yaml:"backend" json:"backend"`
	// Brokers for Kafka
	Brokers []string `yaml:"brokers" json:"brokers"`
	// Topic carrying index tasks
	Topic string `yaml:"topic" json:"topic"`
	// GroupID for the consumer group
	GroupID string `yaml:"group_id" json:"group_id"`
	// BufferSize bounds the memory queue
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// SchedulerConfig controls the due-connector scan.
type SchedulerConfig struct {
	// Enabled turns the scheduler loop on
	Enabled bool `yaml:"enabled" json:"enabled"`
	// CheckInterval is the scan cadence
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
	// DedupWindow suppresses re-enqueues of the same connector
	DedupWindow time.Duration `yaml:"dedup_window" json:"dedup_window"`
}

// DispatcherConfig controls task admission and the attempt pool.
type DispatcherConfig struct {
	// MaxConcurrentAttempts sizes the worker pool
	MaxConcurrentAttempts int `yaml:"max_concurrent_attempts" json:"max_concurrent_attempts"`
	// MemoryHighWatermarkPct defers new attempts while system memory
	// usage is above this percentage. 0 disables the governor.
	MemoryHighWatermarkPct float64 `yaml:"memory_high_watermark_pct" json:"memory_high_watermark_pct"`
	// GovernorBackoff is how long to wait when over the watermark
	GovernorBackoff time.Duration `yaml:"governor_backoff" json:"governor_backoff"`
}

// RetryConfig bounds backoff for transient failures inside an attempt.
type RetryConfig struct {
	// MaxAttempts caps tries per operation (first try included)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// InitialDelay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	// MaxDelay caps the exponential growth
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// Multiplier grows the delay each retry
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// RandomizationFactor jitters the delay (0-1)
	RandomizationFactor float64 `yaml:"randomization_factor" json:"randomization_factor"`
}

// OpsConfig configures the operator HTTP endpoint.
type OpsConfig struct {
	// Enabled turns the HTTP listener on
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Addr to listen on, e.g. ":8710"
	Addr string `yaml:"addr" json:"addr"`
	// AuthToken guards mutating endpoints when non-empty
	AuthToken string `yaml:"auth_token" json:"auth_token"`
	// ReadTimeout for inbound requests
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	// WriteTimeout for responses
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// ObservabilityConfig contains tracing settings.
type ObservabilityConfig struct {
	// EnableTracing activates the otel tracer
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// ServiceName reported on spans
	ServiceName string `yaml:"service_name" json:"service_name"`
	// Environment reported on spans
	Environment string `yaml:"environment" json:"environment"`
	// SampleRate 0.0-1.0
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" json:"level"`
	// Encoding is json or console
	Encoding string `yaml:"encoding" json:"encoding"`
	// Development enables colored, stack-traced output
	Development bool `yaml:"development" json:"development"`
}

// CredentialsConfig configures credential resolution.
type CredentialsConfig struct {
	// CacheTTL bounds how long resolved credentials may be reused.
	// Kept short so rotations propagate within minutes.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// Static maps credential refs to literal key/value credentials.
	// Values support ${ENV_VAR} substitution at load time.
	Static map[string]map[string]string `yaml:"static" json:"static"`
	// OAuth maps credential refs to client-credentials grants
	OAuth map[string]OAuthClientSpec `yaml:"oauth" json:"oauth"`
}

// OAuthClientSpec describes one client-credentials grant.
type OAuthClientSpec struct {
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// SinkConfig configures the document sink endpoint.
type SinkConfig struct {
	// Backend is one of "http", "memory"
	Backend string `yaml:"backend" json:"backend"`
	// URL of the bulk upsert endpoint
	URL string `yaml:"url" json:"url"`
	// AuthToken sent as a bearer token when non-empty
	AuthToken string `yaml:"auth_token" json:"auth_token"`
	// RequestTimeout per upsert call
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// ConnectorSpec is the YAML form of a connector definition for the file
// connector store.
type ConnectorSpec struct {
	// ID uniquely identifies the connector
	ID string `yaml:"id" json:"id"`
	// SourceKind selects the fetcher implementation
	SourceKind string `yaml:"source_kind" json:"source_kind"`
	// PollInterval between scheduled syncs
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// CredentialRef resolved at attempt start
	CredentialRef string `yaml:"credential_ref" json:"credential_ref"`
	// Paused connectors are never scheduled
	Paused bool `yaml:"paused" json:"paused"`
	// Settings are source-kind specific knobs
	Settings map[string]string `yaml:"settings" json:"settings"`
}

// NewConfig creates a Config with production-ready defaults. Deployments
// override the sections they care about via file or environment.
func NewConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			ID:            defaultWorkerID(),
			LeaseTTL:      2 * time.Minute,
			ShutdownGrace: 30 * time.Second,
		},
		Checkpoints: CheckpointStoreConfig{
			Backend:          "s3",
			Prefix:           "checkpoints",
			Region:           "us-east-1",
			Compression:      "zstd",
			CompressionLevel: 5,
		},
		Database: DatabaseConfig{
			Backend:  "postgres",
			MaxConns: 8,
		},
		Queue: QueueConfig{
			Backend:    "memory",
			Topic:      "accretion.index-tasks",
			GroupID:    "accretion-workers",
			BufferSize: 256,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: 15 * time.Second,
			DedupWindow:   time.Minute,
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrentAttempts:  runtime.NumCPU(),
			MemoryHighWatermarkPct: 85,
			GovernorBackoff:        5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:         3,
			InitialDelay:        time.Second,
			MaxDelay:            60 * time.Second,
			Multiplier:          2.0,
			RandomizationFactor: 0.1,
		},
		Ops: OpsConfig{
			Enabled:      true,
			Addr:         ":8710",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			EnableTracing: false,
			ServiceName:   "accretion",
			Environment:   "development",
			SampleRate:    0.1,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Credentials: CredentialsConfig{
			CacheTTL: 5 * time.Minute,
		},
		Sink: SinkConfig{
			Backend:        "http",
			RequestTimeout: 60 * time.Second,
		},
	}
}

// Validate validates the configuration for correctness. Call after loading
// to catch errors before any component starts.
func (c *Config) Validate() error {
	if c.Worker.LeaseTTL <= 0 {
		return fmt.Errorf("worker.lease_ttl must be positive")
	}
	switch c.Checkpoints.Backend {
	case "s3", "gcs", "memory":
	default:
		return fmt.Errorf("checkpoints.backend must be s3, gcs, or memory, got %q", c.Checkpoints.Backend)
	}
	if c.Checkpoints.Backend != "memory" && c.Checkpoints.Bucket == "" {
		return fmt.Errorf("checkpoints.bucket is required for backend %q", c.Checkpoints.Backend)
	}
	switch c.Database.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.backend must be postgres or memory, got %q", c.Database.Backend)
	}
	if c.Database.Backend == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres backend")
	}
	switch c.Queue.Backend {
	case "kafka", "memory":
	default:
		return fmt.Errorf("queue.backend must be kafka or memory, got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "kafka" && len(c.Queue.Brokers) == 0 {
		return fmt.Errorf("queue.brokers is required for the kafka backend")
	}
	if c.Dispatcher.MaxConcurrentAttempts <= 0 {
		return fmt.Errorf("dispatcher.max_concurrent_attempts must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	if c.Scheduler.CheckInterval <= 0 {
		return fmt.Errorf("scheduler.check_interval must be positive")
	}
	for i, spec := range c.Connectors {
		if spec.ID == "" {
			return fmt.Errorf("connectors[%d].id is required", i)
		}
		if spec.SourceKind == "" {
			return fmt.Errorf("connectors[%d].source_kind is required", i)
		}
		if spec.PollInterval <= 0 {
			return fmt.Errorf("connectors[%d].poll_interval must be positive", i)
		}
	}
	return nil
}

// HasScheduler reports whether this worker runs the due-connector scan.
func (c *Config) HasScheduler() bool {
	return c.Scheduler.Enabled
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
