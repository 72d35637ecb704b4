package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

func TestMemoryAttemptStoreCreateGet(t *testing.T) {
	s := NewMemoryAttemptStore()
	ctx := context.Background()

	a := &Attempt{
		ID:          "a-1",
		ConnectorID: "wiki-prod",
		WorkerID:    "worker-1",
		Status:      StatusPending,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.Create(ctx, a))

	err := s.Create(ctx, a)
	require.Error(t, err, "duplicate IDs are rejected")

	got, err := s.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	// The store holds copies in both directions
	got.Status = StatusFailed
	a.Status = StatusFailed
	again, err := s.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)

	_, err = s.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestMemoryAttemptStoreUpdate(t *testing.T) {
	s := NewMemoryAttemptStore()
	ctx := context.Background()

	a := &Attempt{ID: "a-1", ConnectorID: "wiki-prod", Status: StatusPending, StartedAt: time.Now().UTC()}
	require.NoError(t, s.Create(ctx, a))

	a.Status = StatusRunning
	require.NoError(t, s.Update(ctx, a))

	got, err := s.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)

	err = s.Update(ctx, &Attempt{ID: "missing"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestMemoryAttemptStoreLatestAndList(t *testing.T) {
	s := NewMemoryAttemptStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a-1", "a-2", "a-3"} {
		require.NoError(t, s.Create(ctx, &Attempt{
			ID:          id,
			ConnectorID: "wiki-prod",
			Status:      StatusSucceeded,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// Another connector's attempt stays out of wiki-prod results
	require.NoError(t, s.Create(ctx, &Attempt{
		ID: "b-1", ConnectorID: "crm-dev", Status: StatusSucceeded, StartedAt: base.Add(time.Hour),
	}))

	latest, err := s.Latest(ctx, "wiki-prod")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "a-3", latest.ID)

	list, err := s.List(ctx, "wiki-prod", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a-3", list[0].ID)
	assert.Equal(t, "a-2", list[1].ID)

	all, err := s.List(ctx, "wiki-prod", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "limit zero means no cap")

	// A connector that never ran is not an error
	latest, err = s.Latest(ctx, "never-ran")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemoryAttemptStoreLatestBreaksTiesByInsertion(t *testing.T) {
	s := NewMemoryAttemptStore()
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, &Attempt{ID: "first", ConnectorID: "c", Status: StatusFailed, StartedAt: at}))
	require.NoError(t, s.Create(ctx, &Attempt{ID: "second", ConnectorID: "c", Status: StatusSucceeded, StartedAt: at}))

	latest, err := s.Latest(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "second", latest.ID)
}

func TestMemoryAttemptStoreListActive(t *testing.T) {
	s := NewMemoryAttemptStore()
	ctx := context.Background()
	at := time.Now().UTC()

	rows := []*Attempt{
		{ID: "p", ConnectorID: "c1", Status: StatusPending, StartedAt: at},
		{ID: "r", ConnectorID: "c2", Status: StatusRunning, StartedAt: at},
		{ID: "s", ConnectorID: "c3", Status: StatusSucceeded, StartedAt: at},
		{ID: "f", ConnectorID: "c4", Status: StatusFailed, StartedAt: at},
		{ID: "x", ConnectorID: "c5", Status: StatusCanceled, StartedAt: at},
	}
	for _, a := range rows {
		require.NoError(t, s.Create(ctx, a))
	}

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "p", active[0].ID)
	assert.Equal(t, "r", active[1].ID)
}
