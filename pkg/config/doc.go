// Package config provides unified configuration management for the Accretion
// sync coordinator.
//
// A single Config structure covers the worker process end to end. It is
// loaded from one YAML file, with two layers of environment input applied
// in order:
//
//  1. ${VAR_NAME} substitution inside the file contents
//  2. ACCRETION_* overrides on individual keys
//
// # Usage
//
// ## Loading
//
//	cfg, err := config.Load("accretion.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// An empty path loads defaults plus environment overrides, which is enough
// for a memory-backed development run.
//
// ## Environment overrides
//
// Override keys follow the section structure with underscores:
//
//	ACCRETION_QUEUE_BACKEND=kafka
//	ACCRETION_DATABASE_DSN=postgres://accretion@db/accretion
//	ACCRETION_CHECKPOINTS_BUCKET=prod-checkpoints
//
// ## Secret substitution
//
//	# accretion.yaml
//	credentials:
//	  static:
//	    wiki-token:
//	      api_token: ${WIKI_API_TOKEN}
//
// # Configuration structure
//
//	type Config struct {
//		Worker        WorkerConfig
//		Checkpoints   CheckpointStoreConfig
//		Database      DatabaseConfig
//		Queue         QueueConfig
//		Scheduler     SchedulerConfig
//		Dispatcher    DispatcherConfig
//		Retry         RetryConfig
//		Ops           OpsConfig
//		Observability ObservabilityConfig
//		Logging       LoggingConfig
//		Credentials   CredentialsConfig
//		Sink          SinkConfig
//		Connectors    []ConnectorSpec
//	}
//
// Each section is validated on load:
//
// - Worker: process identity, lease TTL, shutdown grace
// - Checkpoints: checkpoint store backend (s3, gcs, memory) and codec
// - Database: attempt, lease, and connector stores (postgres, memory)
// - Queue: task queue backend (kafka, memory)
// - Scheduler: due-connector scan cadence
// - Dispatcher: worker pool size and memory governor
// - Retry: bounded backoff for transient failures inside an attempt
// - Ops: operator HTTP endpoint
// - Credentials: static and OAuth credential sources
// - Sink: document sink endpoint
// - Connectors: static connector definitions for the file store
//
// NewConfig() supplies production-ready defaults for every section, so a
// file only needs the keys it changes.
package config
