// Package sink delivers document batches to the indexing backend.
//
// Upserts are keyed on Document.ID, which is what makes the whole pipeline
// safe under at-least-once delivery: a batch replayed after a crash or an
// ambiguous failure overwrites the same documents instead of duplicating
// them. Batches land whole; a failed batch is retried in its entirety.
package sink

import (
	"context"

	"github.com/ajitpratap0/accretion/pkg/connector/core"
)

// Sink accepts document batches for indexing.
type Sink interface {
	// Upsert writes every document in the batch, replacing existing
	// documents with the same ID. Errors carry a type from pkg/errors
	// that decides retry policy.
	Upsert(ctx context.Context, batch *core.DocumentBatch) error
}
