package httpapi

import (
	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/connector/registry"
)

func init() {
	// Register the paginated REST source
	_ = registry.Register("httpapi", func(cfg *core.ConnectorConfig) (core.Fetcher, error) {
		return NewHTTPAPIFetcher(cfg)
	})
}
