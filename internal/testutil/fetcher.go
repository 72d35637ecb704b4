// Package testutil provides fakes shared by orchestration tests.
package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/credentials"
	"github.com/ajitpratap0/accretion/pkg/errors"
)

// Step is one scripted fetch position. The fetcher serves Errs one per call
// first, then the documents, so a step can fail transiently and succeed on
// retry from the same cursor.
type Step struct {
	// Docs returned once Errs is drained
	Docs []*core.Document
	// Errs consumed one per Fetch call at this position
	Errs []error
	// Final marks this step as the end of the sweep
	Final bool
	// OnFetch runs at the start of every Fetch call at this position.
	// Tests use it to cancel or crash at an exact point in the stream.
	OnFetch func()
}

// ScriptedFetcher replays a fixed sequence of fetch steps. Cursors address
// steps by index, so a resumed attempt provably starts mid-script: the
// recorded cursors show exactly which positions were fetched.
type ScriptedFetcher struct {
	mu    sync.Mutex
	steps []Step

	// OpenErr fails Open when set
	OpenErr error

	opened     bool
	openCount  int
	closeCount int
	creds      credentials.Credentials
	cursors    []core.Cursor
}

// NewScriptedFetcher builds a fetcher that serves the given steps in order.
func NewScriptedFetcher(steps ...Step) *ScriptedFetcher {
	return &ScriptedFetcher{steps: steps}
}

// StepCursor returns the cursor addressing script position n. Tests seed
// checkpoints with it to simulate a resumed attempt.
func StepCursor(n int) core.Cursor {
	return core.Cursor(fmt.Sprintf("step:%d", n))
}

// Open implements core.Fetcher.
func (f *ScriptedFetcher) Open(_ context.Context, creds credentials.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.openCount++
	if f.OpenErr != nil {
		return f.OpenErr
	}
	f.opened = true
	f.creds = creds
	return nil
}

// Fetch implements core.Fetcher.
func (f *ScriptedFetcher) Fetch(_ context.Context, cursor core.Cursor) (*core.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.opened {
		return nil, errors.New(errors.ErrorTypeInternal, "fetch called before open")
	}

	idx, err := stepIndex(cursor)
	if err != nil {
		return nil, err
	}
	f.cursors = append(f.cursors, cursor)

	if idx >= len(f.steps) {
		return nil, errors.Newf(errors.ErrorTypeData, "cursor beyond script end: step %d of %d", idx, len(f.steps))
	}
	step := &f.steps[idx]

	if step.OnFetch != nil {
		step.OnFetch()
	}
	if len(step.Errs) > 0 {
		ferr := step.Errs[0]
		step.Errs = step.Errs[1:]
		return nil, ferr
	}

	return &core.FetchResult{
		Batch:      &core.DocumentBatch{Documents: step.Docs},
		NextCursor: StepCursor(idx + 1),
		Final:      step.Final,
	}, nil
}

// Close implements core.Fetcher.
func (f *ScriptedFetcher) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.opened = false
	f.closeCount++
	return nil
}

// OpenCount returns how many times Open was called.
func (f *ScriptedFetcher) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCount
}

// CloseCount returns how many times Close was called.
func (f *ScriptedFetcher) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

// Creds returns the credentials passed to the last successful Open.
func (f *ScriptedFetcher) Creds() credentials.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds
}

// Cursors returns every cursor Fetch observed, in order.
func (f *ScriptedFetcher) Cursors() []core.Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Cursor, len(f.cursors))
	copy(out, f.cursors)
	return out
}

func stepIndex(cursor core.Cursor) (int, error) {
	if len(cursor) == 0 {
		return 0, nil
	}
	s := string(cursor)
	n, err := strconv.Atoi(strings.TrimPrefix(s, "step:"))
	if !strings.HasPrefix(s, "step:") || err != nil {
		return 0, errors.Newf(errors.ErrorTypeData, "undecodable cursor %q", s)
	}
	return n, nil
}

// GenDocs builds n documents with IDs prefix-0 through prefix-n-1.
func GenDocs(prefix string, n int) []*core.Document {
	docs := make([]*core.Document, n)
	for i := range docs {
		docs[i] = &core.Document{
			ID:      fmt.Sprintf("%s-%d", prefix, i),
			Title:   fmt.Sprintf("%s %d", prefix, i),
			Content: fmt.Sprintf("content for %s %d", prefix, i),
		}
	}
	return docs
}
