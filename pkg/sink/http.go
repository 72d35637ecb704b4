package sink

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/clients"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/errors"
	jsonpool "github.com/ajitpratap0/accretion/pkg/json"
	"github.com/ajitpratap0/accretion/pkg/logger"
)

// maxErrorBody bounds how much of a failure response lands in error
// details and logs.
const maxErrorBody = 512

// HTTPConfig configures the HTTP sink.
type HTTPConfig struct {
	// URL of the bulk upsert endpoint
	URL string
	// AuthToken sent as a bearer token when non-empty
	AuthToken string
	// RequestTimeout per upsert call
	RequestTimeout time.Duration
}

// HTTPSink posts document batches to an indexing service's bulk upsert
// endpoint as JSON.
type HTTPSink struct {
	cfg    HTTPConfig
	client *clients.HTTPClient
	logger *zap.Logger
}

// NewHTTPSink creates a sink over the shared HTTP client.
func NewHTTPSink(cfg HTTPConfig, client *clients.HTTPClient) *HTTPSink {
	return &HTTPSink{
		cfg:    cfg,
		client: client,
		logger: logger.Get().With(zap.String("component", "http_sink")),
	}
}

// Upsert implements Sink.
func (s *HTTPSink) Upsert(ctx context.Context, batch *core.DocumentBatch) error {
	if batch.Len() == 0 {
		return nil
	}

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	body, err := jsonpool.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to serialize document batch")
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if s.cfg.AuthToken != "" {
		headers["Authorization"] = "Bearer " + s.cfg.AuthToken
	}

	resp, err := s.client.Post(ctx, s.cfg.URL, bytes.NewReader(body), headers)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, "upsert request timed out").
				WithDetail("documents", batch.Len())
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, "upsert request failed").
			WithDetail("documents", batch.Len())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return classifyStatus(resp.StatusCode, string(snippet)).
		WithDetail("documents", batch.Len())
}

// classifyStatus maps an upsert response status onto the error taxonomy.
func classifyStatus(status int, body string) *errors.Error {
	var err *errors.Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = errors.New(errors.ErrorTypeCredential, "sink rejected credentials")
	case status == http.StatusTooManyRequests:
		err = errors.New(errors.ErrorTypeRateLimit, "sink rate limited")
	case status == http.StatusRequestTimeout:
		err = errors.New(errors.ErrorTypeTimeout, "sink timed out")
	case status >= 500:
		err = errors.New(errors.ErrorTypeConnection, "sink unavailable")
	default:
		// Remaining 4xx: the batch itself is unacceptable; retrying the
		// same payload cannot succeed
		err = errors.New(errors.ErrorTypeData, "sink rejected batch")
	}
	return err.WithDetail("status", status).WithDetail("body", body)
}
