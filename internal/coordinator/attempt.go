package coordinator

import (
	"strings"
	"time"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

// Status is the lifecycle state of an indexing attempt.
type Status string

const (
	// StatusPending marks an attempt created but not yet running.
	StatusPending Status = "pending"
	// StatusRunning marks an attempt actively syncing.
	StatusRunning Status = "running"
	// StatusSucceeded marks an attempt that reached the end of its sweep.
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks an attempt that stopped on an error.
	StatusFailed Status = "failed"
	// StatusCanceled marks an attempt stopped by an operator.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status is final. Every attempt reaches a
// terminal status eventually; the janitor covers attempts whose worker died.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Attempt is one run of a connector's sync loop.
type Attempt struct {
	// ID is a uuid assigned at creation
	ID string `json:"id"`
	// ConnectorID the attempt syncs
	ConnectorID string `json:"connector_id"`
	// WorkerID that owns the attempt's lease
	WorkerID string `json:"worker_id"`
	// Status of the lifecycle
	Status Status `json:"status"`
	// StartedAt is when the attempt was created
	StartedAt time.Time `json:"started_at"`
	// EndedAt is zero until the attempt is terminal
	EndedAt time.Time `json:"ended_at,omitempty"`
	// ErrorSummary is a single truncated line, set on failure only
	ErrorSummary string `json:"error_summary,omitempty"`
	// ErrorCategory is the error type that stopped the attempt
	ErrorCategory string `json:"error_category,omitempty"`
	// DocumentsProcessed mirrors the final checkpoint's count
	DocumentsProcessed int64 `json:"documents_processed"`
}

// Clone returns a copy.
func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	out := *a
	return &out
}

// maxErrorSummaryLen caps stored failure text. Full errors (with stack and
// details) go to the log; the attempt row keeps one scannable line.
const maxErrorSummaryLen = 512

// summarizeError flattens an error into a single bounded line.
func summarizeError(err error) string {
	if err == nil {
		return ""
	}
	s := strings.Join(strings.Fields(err.Error()), " ")
	if len(s) > maxErrorSummaryLen {
		s = strings.ToValidUTF8(s[:maxErrorSummaryLen-3], "") + "..."
	}
	return s
}

// categoryOf maps an error onto the category recorded on failed attempts.
// Categories are the pkg/errors type names, so "credential" failures can be
// alerted on separately from flaky-source "connection" ones.
func categoryOf(err error) string {
	return string(errors.TypeOf(err))
}
