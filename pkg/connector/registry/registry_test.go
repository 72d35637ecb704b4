package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/credentials"
	"github.com/ajitpratap0/accretion/pkg/errors"
)

type nopFetcher struct{}

func (nopFetcher) Open(context.Context, credentials.Credentials) error { return nil }
func (nopFetcher) Fetch(context.Context, core.Cursor) (*core.FetchResult, error) {
	return &core.FetchResult{Final: true}, nil
}
func (nopFetcher) Close(context.Context) error { return nil }

func TestRegisterAndCreate(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("httpapi", func(cfg *core.ConnectorConfig) (core.Fetcher, error) {
		return nopFetcher{}, nil
	}))

	assert.True(t, r.Has("httpapi"))
	assert.Equal(t, []string{"httpapi"}, r.List())

	f, err := r.Create(&core.ConnectorConfig{ConnectorID: "c1", SourceKind: "httpapi"})
	require.NoError(t, err)
	assert.NotNil(t, f)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	factory := func(cfg *core.ConnectorConfig) (core.Fetcher, error) { return nopFetcher{}, nil }

	require.NoError(t, r.Register("httpapi", factory))
	err := r.Register("httpapi", factory)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCreateUnknownKind(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create(&core.ConnectorConfig{ConnectorID: "c1", SourceKind: "gopher"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	factory := func(cfg *core.ConnectorConfig) (core.Fetcher, error) { return nopFetcher{}, nil }

	require.NoError(t, r.Register("zendesk", factory))
	require.NoError(t, r.Register("httpapi", factory))

	assert.Equal(t, []string{"httpapi", "zendesk"}, r.List())
}
