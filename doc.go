// Package accretion provides a checkpointed ingestion coordinator that
// syncs documents from external sources into a search sink, resumable at
// batch granularity.
//
// A fleet of workers shares a catalog of connectors. Each connector names
// a source kind, credentials, and a poll interval; the scheduler enqueues
// connectors as they come due, the dispatcher admits tasks onto a bounded
// worker pool, and the coordinator runs each sync attempt: resolve
// credentials, open the fetcher, walk the document stream batch by batch,
// upsert into the sink, and persist a checkpoint after every committed
// batch. A worker lost mid-sync leaves behind a lease that expires and a
// checkpoint that the next attempt resumes from.
//
// # Delivery semantics
//
// Accretion is at-least-once end to end. The checkpoint is saved only
// after its batch has landed in the sink, so a crash between upsert and
// save replays that batch on resume. The sink upserts by stable document
// ID, which makes the replay invisible. Checkpoint writes carry a
// monotonically increasing ordinal so a stalled worker's late write can
// never clobber a newer checkpoint.
//
// Queue tasks are hints, not ledger entries: losing a task delays a sync
// by one scheduler pass, and a duplicate task is suppressed by the
// connector lease. That is why every queue message is marked consumed,
// even ones that fail to decode.
//
// # Quick start
//
// Run a worker against a config file:
//
//	accretion run --config accretion.yaml
//
// A minimal development config keeps everything in memory:
//
//	worker:
//	  id: dev-1
//	connectors:
//	  - connector_id: wiki-dev
//	    source_kind: httpapi
//	    poll_interval: 5m
//	    settings:
//	      base_url: http://localhost:9000/api/documents
//
// Operate a running worker over its HTTP endpoint:
//
//	accretion connectors
//	accretion trigger wiki-dev
//	accretion status wiki-dev
//
// # Key packages
//
//	internal/coordinator - sync attempt lifecycle, retry, janitor
//	internal/dispatcher  - task queue, scheduler, worker pool, memory governor
//	internal/ops         - operator HTTP endpoint
//	pkg/connector        - fetcher interfaces, registry, built-in sources
//	pkg/checkpoint       - durable checkpoint stores (S3, GCS, memory)
//	pkg/lease            - connector leases (Postgres, memory)
//	pkg/sink             - document sink client
//	pkg/credentials      - credential resolution (static, OAuth)
//	pkg/config           - worker configuration
//	pkg/errors           - typed errors that drive retry policy
//
// # Configuration
//
// One YAML file configures the whole worker, with ${VAR} substitution and
// ACCRETION_* environment overrides. Every backend has a memory
// implementation, so a laptop run needs no infrastructure; production
// swaps in Postgres for attempts and leases, S3 or GCS for checkpoints,
// and Kafka for the task queue without touching the calling code.
package accretion
