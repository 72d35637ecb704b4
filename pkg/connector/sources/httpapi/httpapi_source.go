// Package httpapi fetches documents from paginated JSON REST APIs.
//
// The wire contract is a GET endpoint returning
//
//	{"documents": [...], "next_page_token": "..."}
//
// where an empty next_page_token marks the last page. The page token is
// carried inside the cursor, so a sync interrupted between pages resumes
// at the exact page it stopped on.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/clients"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/credentials"
	"github.com/ajitpratap0/accretion/pkg/errors"
	jsonpool "github.com/ajitpratap0/accretion/pkg/json"
	"github.com/ajitpratap0/accretion/pkg/logger"
)

const (
	defaultPageSize = 100
	maxErrorBody    = 512
)

// HTTPAPIFetcher reads documents from a paginated REST endpoint.
type HTTPAPIFetcher struct {
	connectorID string
	baseURL     string
	pageSize    int
	rateLimit   float64

	client *clients.HTTPClient
	bearer string
	opened bool
	logger *zap.Logger
}

// cursorState is the JSON the fetcher stores inside its opaque cursor.
type cursorState struct {
	PageToken string `json:"page_token"`
}

// pageResponse is the source API's page shape.
type pageResponse struct {
	Documents     []pageDocument `json:"documents"`
	NextPageToken string         `json:"next_page_token"`
}

type pageDocument struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewHTTPAPIFetcher creates a fetcher from the connector definition.
func NewHTTPAPIFetcher(cfg *core.ConnectorConfig) (*HTTPAPIFetcher, error) {
	baseURL := cfg.Setting("base_url", "")
	if baseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "base_url setting is required").
			WithDetail("connector_id", cfg.ConnectorID)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid base_url").
			WithDetail("connector_id", cfg.ConnectorID)
	}

	pageSize := defaultPageSize
	if raw := cfg.Setting("page_size", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, errors.New(errors.ErrorTypeConfig, "page_size must be a positive integer").
				WithDetail("connector_id", cfg.ConnectorID).
				WithDetail("page_size", raw)
		}
		pageSize = n
	}

	var rateLimit float64
	if raw := cfg.Setting("rate_limit", ""); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 {
			return nil, errors.New(errors.ErrorTypeConfig, "rate_limit must be a non-negative number").
				WithDetail("connector_id", cfg.ConnectorID)
		}
		rateLimit = f
	}

	return &HTTPAPIFetcher{
		connectorID: cfg.ConnectorID,
		baseURL:     baseURL,
		pageSize:    pageSize,
		rateLimit:   rateLimit,
		logger: logger.Get().With(
			zap.String("component", "httpapi_source"),
			zap.String("connector_id", cfg.ConnectorID)),
	}, nil
}

// Open implements core.Fetcher. An empty bearer token is allowed: some
// sources are public.
func (f *HTTPAPIFetcher) Open(_ context.Context, creds credentials.Credentials) error {
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RateLimit = f.rateLimit
	f.client = clients.NewHTTPClient(httpCfg, logger.Get())
	f.bearer = creds.BearerToken()
	f.opened = true

	f.logger.Info("source opened",
		zap.String("base_url", f.baseURL),
		zap.Int("page_size", f.pageSize),
		zap.Bool("authenticated", f.bearer != ""))
	return nil
}

// Fetch implements core.Fetcher.
func (f *HTTPAPIFetcher) Fetch(ctx context.Context, cursor core.Cursor) (*core.FetchResult, error) {
	if !f.opened {
		return nil, errors.New(errors.ErrorTypeInternal, "fetch called before open")
	}

	pageToken, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	reqURL, err := f.pageURL(pageToken)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Accept": "application/json"}
	if f.bearer != "" {
		headers["Authorization"] = "Bearer " + f.bearer
	}

	resp, err := f.client.Get(ctx, reqURL, headers)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyFetchStatus(resp, string(snippet))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read source response")
	}

	var page pageResponse
	if err := jsonpool.Unmarshal(body, &page); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "source returned malformed page").
			WithDetail("connector_id", f.connectorID)
	}

	docs := make([]*core.Document, 0, len(page.Documents))
	for i, pd := range page.Documents {
		if pd.ID == "" {
			return nil, errors.New(errors.ErrorTypeData, "source returned document without id").
				WithDetail("connector_id", f.connectorID).
				WithDetail("index", i)
		}
		docs = append(docs, &core.Document{
			ID:        pd.ID,
			Source:    f.connectorID,
			Title:     pd.Title,
			Content:   pd.Content,
			Metadata:  pd.Metadata,
			UpdatedAt: pd.UpdatedAt,
		})
	}

	result := &core.FetchResult{
		Batch: &core.DocumentBatch{Documents: docs},
	}
	if page.NextPageToken == "" {
		result.Final = true
		return result, nil
	}
	next, err := jsonpool.Marshal(&cursorState{PageToken: page.NextPageToken})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode cursor")
	}
	result.NextCursor = core.Cursor(next)
	return result, nil
}

// Close implements core.Fetcher.
func (f *HTTPAPIFetcher) Close(_ context.Context) error {
	f.opened = false
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *HTTPAPIFetcher) pageURL(pageToken string) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid base_url")
	}
	q := u.Query()
	q.Set("page_size", strconv.Itoa(f.pageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeCursor extracts the page token. A cursor this fetcher cannot
// parse is a protocol violation, not something to guess around.
func decodeCursor(cursor core.Cursor) (string, error) {
	if len(cursor) == 0 {
		return "", nil
	}
	var state cursorState
	if err := jsonpool.Unmarshal(cursor, &state); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "undecodable cursor")
	}
	return state.PageToken, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() == context.Canceled:
		return errors.Wrap(err, errors.ErrorTypeCanceled, "fetch canceled")
	case ctx.Err() == context.DeadlineExceeded:
		return errors.Wrap(err, errors.ErrorTypeTimeout, "fetch deadline exceeded")
	default:
		return errors.Wrap(err, errors.ErrorTypeConnection, "source unreachable")
	}
}

func classifyFetchStatus(resp *http.Response, body string) error {
	var err *errors.Error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		err = errors.New(errors.ErrorTypeCredential, "source rejected credentials")
	case resp.StatusCode == http.StatusTooManyRequests:
		err = errors.New(errors.ErrorTypeRateLimit, "source rate limited")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			err = err.WithDetail("retry_after", ra)
		}
	case resp.StatusCode == http.StatusRequestTimeout:
		err = errors.New(errors.ErrorTypeTimeout, "source timed out")
	case resp.StatusCode >= 500:
		err = errors.New(errors.ErrorTypeConnection, "source unavailable")
	default:
		err = errors.New(errors.ErrorTypeData, "source rejected request")
	}
	return err.WithDetail("status", resp.StatusCode).WithDetail("body", body)
}
