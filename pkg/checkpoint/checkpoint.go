// Package checkpoint persists sync progress so interrupted attempts resume
// instead of restarting.
//
// A Checkpoint is a small whole object written after its batch has landed
// in the sink, never before. Backends are dumb whole-object writers (S3,
// GCS, memory); ordering protection lives in MonotonicStore, which rejects
// saves whose ordinal would move progress backwards.
package checkpoint

import (
	"context"
	"time"

	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/errors"
)

// Checkpoint records resumable progress for one connector.
type Checkpoint struct {
	// ConnectorID the checkpoint belongs to
	ConnectorID string `json:"connector_id"`
	// AttemptID that wrote this checkpoint
	AttemptID string `json:"attempt_id"`
	// Cursor is the opaque source position to resume from
	Cursor core.Cursor `json:"cursor,omitempty"`
	// Ordinal increases by one per committed batch. Saves that would
	// lower it are rejected as stale.
	Ordinal uint64 `json:"ordinal"`
	// DocumentsProcessed counts documents committed across the sync
	DocumentsProcessed int64 `json:"documents_processed"`
	// UpdatedAt is when the checkpoint was written
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	if c.Cursor != nil {
		out.Cursor = make(core.Cursor, len(c.Cursor))
		copy(out.Cursor, c.Cursor)
	}
	return &out
}

// ErrStale marks a save whose ordinal is older than the one already
// stored. Callers detect it with errors.Is.
var ErrStale = errors.New(errors.ErrorTypeCheckpoint, "checkpoint ordinal older than stored")

// Store persists checkpoints per connector.
//
// Load returns (nil, nil) when no checkpoint exists: absence means "start
// from the beginning" and is not an error.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, connectorID string) (*Checkpoint, error)
	Clear(ctx context.Context, connectorID string) error
}
