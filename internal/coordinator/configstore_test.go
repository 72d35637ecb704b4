package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/errors"
)

func TestStaticConfigStoreFromSpecs(t *testing.T) {
	specs := []config.ConnectorSpec{
		{
			ID:            "wiki-prod",
			SourceKind:    "httpapi",
			PollInterval:  30 * time.Minute,
			CredentialRef: "vault-wiki",
			Settings:      map[string]string{"base_url": "https://wiki.internal"},
		},
		{
			ID:           "crm-dev",
			SourceKind:   "httpapi",
			PollInterval: time.Hour,
			Paused:       true,
		},
	}
	s := NewStaticConfigStore(specs)
	ctx := context.Background()

	cfg, err := s.Get(ctx, "wiki-prod")
	require.NoError(t, err)
	assert.Equal(t, "httpapi", cfg.SourceKind)
	assert.Equal(t, 30*time.Minute, cfg.PollInterval)
	assert.Equal(t, "vault-wiki", cfg.CredentialRef)
	assert.False(t, cfg.Paused)
	assert.Equal(t, "https://wiki.internal", cfg.Setting("base_url", ""))

	// The store copied the settings map at construction
	specs[0].Settings["base_url"] = "https://changed"
	cfg, err = s.Get(ctx, "wiki-prod")
	require.NoError(t, err)
	assert.Equal(t, "https://wiki.internal", cfg.Setting("base_url", ""))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "crm-dev", list[0].ConnectorID, "ordered by ID")
	assert.Equal(t, "wiki-prod", list[1].ConnectorID)

	_, err = s.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestStaticConfigStorePut(t *testing.T) {
	s := NewStaticConfigStore(nil)
	ctx := context.Background()

	s.Put(&core.ConnectorConfig{ConnectorID: "wiki-prod", SourceKind: "httpapi", PollInterval: time.Minute})
	s.Put(&core.ConnectorConfig{ConnectorID: "wiki-prod", SourceKind: "httpapi", PollInterval: time.Minute, Paused: true})

	cfg, err := s.Get(ctx, "wiki-prod")
	require.NoError(t, err)
	assert.True(t, cfg.Paused, "put replaces the existing entry")
}
