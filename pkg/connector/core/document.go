package core

import (
	"time"
)

// Document is the unit of ingestion. ID is the stable identity: the sink
// upserts by it, so refetching the same document is always safe.
type Document struct {
	// ID uniquely and stably identifies the document at its source
	ID string `json:"id"`
	// Source names the connector that produced the document
	Source string `json:"source"`
	// Title of the document
	Title string `json:"title"`
	// Content is the extracted text body
	Content string `json:"content"`
	// Metadata carries source-specific attributes (author, space, labels)
	Metadata map[string]string `json:"metadata,omitempty"`
	// UpdatedAt is the source-side modification time
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentBatch groups documents fetched in one step. Batches commit to
// the sink whole: either every document lands or the batch is retried.
type DocumentBatch struct {
	Documents []*Document `json:"documents"`
}

// Len returns the number of documents in the batch.
func (b *DocumentBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Documents)
}

// IDs returns the document ids in batch order.
func (b *DocumentBatch) IDs() []string {
	if b == nil {
		return nil
	}
	ids := make([]string, len(b.Documents))
	for i, doc := range b.Documents {
		ids[i] = doc.ID
	}
	return ids
}
