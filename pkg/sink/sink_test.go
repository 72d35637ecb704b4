package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/accretion/pkg/clients"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/errors"
	jsonpool "github.com/ajitpratap0/accretion/pkg/json"
	"github.com/ajitpratap0/accretion/pkg/logger"
)

func init() {
	_ = logger.Init(logger.Config{Level: "error", Encoding: "console"})
}

func testBatch(ids ...string) *core.DocumentBatch {
	docs := make([]*core.Document, len(ids))
	for i, id := range ids {
		docs[i] = &core.Document{
			ID:      id,
			Source:  "wiki-prod",
			Title:   "Page " + id,
			Content: "body of " + id,
		}
	}
	return &core.DocumentBatch{Documents: docs}
}

func newTestHTTPSink(t *testing.T, srv *httptest.Server, token string) *HTTPSink {
	t.Helper()
	cfg := clients.DefaultHTTPConfig()
	cfg.EnableHTTP2 = false
	client := clients.NewHTTPClient(cfg, logger.Get())
	t.Cleanup(func() { _ = client.Close() })
	return NewHTTPSink(HTTPConfig{
		URL:            srv.URL + "/v1/documents:bulk",
		AuthToken:      token,
		RequestTimeout: 5 * time.Second,
	}, client)
}

func TestHTTPSinkUpsert(t *testing.T) {
	var gotAuth string
	var gotBatch core.DocumentBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, jsonpool.Unmarshal(body, &gotBatch))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestHTTPSink(t, srv, "sink-token")
	require.NoError(t, s.Upsert(context.Background(), testBatch("d1", "d2")))

	assert.Equal(t, "Bearer sink-token", gotAuth)
	require.Len(t, gotBatch.Documents, 2)
	assert.Equal(t, "d1", gotBatch.Documents[0].ID)
}

func TestHTTPSinkEmptyBatchSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer srv.Close()

	s := newTestHTTPSink(t, srv, "")
	require.NoError(t, s.Upsert(context.Background(), &core.DocumentBatch{}))
	assert.False(t, called)
}

func TestHTTPSinkStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantType  errors.ErrorType
		retryable bool
	}{
		{http.StatusUnauthorized, errors.ErrorTypeCredential, false},
		{http.StatusForbidden, errors.ErrorTypeCredential, false},
		{http.StatusTooManyRequests, errors.ErrorTypeRateLimit, true},
		{http.StatusBadGateway, errors.ErrorTypeConnection, true},
		{http.StatusInternalServerError, errors.ErrorTypeConnection, true},
		{http.StatusUnprocessableEntity, errors.ErrorTypeData, false},
		{http.StatusBadRequest, errors.ErrorTypeData, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "refused", tt.status)
		}))

		s := newTestHTTPSink(t, srv, "")
		err := s.Upsert(context.Background(), testBatch("d1"))
		require.Error(t, err, "status %d", tt.status)
		assert.True(t, errors.IsType(err, tt.wantType), "status %d: got %v", tt.status, errors.TypeOf(err))
		assert.Equal(t, tt.retryable, errors.IsRetryable(err), "status %d", tt.status)

		srv.Close()
	}
}

func TestHTTPSinkConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close() // nothing is listening anymore

	s := newTestHTTPSink(t, srv, "")
	err := s.Upsert(context.Background(), testBatch("d1"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.True(t, errors.IsRetryable(err))
}

func TestMemorySinkDeduplicates(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testBatch("d1", "d2")))
	// A replayed batch overwrites instead of duplicating
	require.NoError(t, s.Upsert(ctx, testBatch("d1", "d2")))

	assert.Equal(t, 2, s.UniqueCount())
	assert.Equal(t, 4, s.DocsReceived())
	assert.Equal(t, 2, s.UpsertCalls())
}

func TestMemorySinkFailureInjection(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	injected := errors.New(errors.ErrorTypeConnection, "sink down")
	s.FailNextWith(injected, injected)

	err := s.Upsert(ctx, testBatch("d1"))
	require.Error(t, err)
	// The failed call stored nothing
	assert.Equal(t, 0, s.UniqueCount())

	err = s.Upsert(ctx, testBatch("d1"))
	require.Error(t, err)

	require.NoError(t, s.Upsert(ctx, testBatch("d1")))
	assert.Equal(t, 1, s.UniqueCount())
	assert.Equal(t, 3, s.UpsertCalls())
}
