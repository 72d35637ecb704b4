package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/accretion/pkg/credentials"
)

// Cursor is an opaque position in a source's document stream. Only the
// fetcher that produced a cursor can interpret it; everything else stores
// and replays it verbatim.
type Cursor []byte

// FetchResult is the outcome of one fetch step.
type FetchResult struct {
	// Batch of documents fetched at this position. May be empty.
	Batch *DocumentBatch
	// NextCursor resumes the stream after this batch
	NextCursor Cursor
	// Final marks the end of the stream for this sync
	Final bool
}

// Fetcher reads documents from an external source in resumable batches.
//
// Lifecycle: Open once with resolved credentials, Fetch repeatedly (each
// call passes the cursor the previous call returned; nil starts from the
// beginning), Close when the attempt ends. Fetchers are used by a single
// goroutine and need not be safe for concurrent use.
//
// Fetch errors carry a type from pkg/errors that decides policy:
// connection and rate-limit errors are retried with backoff, credential
// errors abort the attempt without retry, data errors abort and preserve
// the checkpoint for inspection.
type Fetcher interface {
	Open(ctx context.Context, creds credentials.Credentials) error
	Fetch(ctx context.Context, cursor Cursor) (*FetchResult, error)
	Close(ctx context.Context) error
}

// ConnectorConfig describes one configured connector. Rows are owned by
// the operator surface; the coordinator treats them as read-only.
type ConnectorConfig struct {
	// ConnectorID uniquely identifies the connector
	ConnectorID string `json:"connector_id"`
	// SourceKind selects the registered fetcher implementation
	SourceKind string `json:"source_kind"`
	// PollInterval between scheduled syncs
	PollInterval time.Duration `json:"poll_interval"`
	// CredentialRef is resolved at attempt start, never stored resolved
	CredentialRef string `json:"credential_ref"`
	// Paused connectors are skipped by the scheduler
	Paused bool `json:"paused"`
	// Settings are source-kind specific knobs (base URL, page size)
	Settings map[string]string `json:"settings,omitempty"`
}

// Setting returns the named setting, or def when absent or empty.
func (c *ConnectorConfig) Setting(key, def string) string {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v
	}
	return def
}
