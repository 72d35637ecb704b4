package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/pkg/connector/core"
	"github.com/ajitpratap0/accretion/pkg/errors"
	"github.com/ajitpratap0/accretion/pkg/logger"
)

// Registry manages fetcher registration and instantiation
type Registry struct {
	fetchers map[string]FetcherFactory
	mu       sync.RWMutex
	logger   *zap.Logger
}

// FetcherFactory is a function that creates fetcher instances for one
// source kind. It takes the connector definition and returns a configured
// Fetcher or an error.
type FetcherFactory func(cfg *core.ConnectorConfig) (core.Fetcher, error)

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new fetcher registry
func NewRegistry() *Registry {
	return &Registry{
		fetchers: make(map[string]FetcherFactory),
		logger:   logger.Get().With(zap.String("component", "fetcher_registry")),
	}
}

// Register registers a fetcher factory under a source kind
func (r *Registry) Register(sourceKind string, factory FetcherFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fetchers[sourceKind]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source kind %s already registered", sourceKind))
	}

	r.fetchers[sourceKind] = factory
	r.logger.Info("source kind registered", zap.String("source_kind", sourceKind))
	return nil
}

// Create creates a fetcher for the connector's source kind
func (r *Registry) Create(cfg *core.ConnectorConfig) (core.Fetcher, error) {
	r.mu.RLock()
	factory, exists := r.fetchers[cfg.SourceKind]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source kind %s not found", cfg.SourceKind))
	}

	fetcher, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create fetcher for %s", cfg.ConnectorID))
	}

	return fetcher, nil
}

// List returns the registered source kinds, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.fetchers))
	for kind := range r.fetchers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Has checks if a source kind is registered
func (r *Registry) Has(sourceKind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.fetchers[sourceKind]
	return exists
}

// Clear removes all registered fetchers (mainly for testing)
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fetchers = make(map[string]FetcherFactory)
}

// Global registry functions

// Register registers a fetcher factory in the global registry
func Register(sourceKind string, factory FetcherFactory) error {
	return globalRegistry.Register(sourceKind, factory)
}

// Create creates a fetcher from the global registry
func Create(cfg *core.ConnectorConfig) (core.Fetcher, error) {
	return globalRegistry.Create(cfg)
}

// List returns registered source kinds from the global registry
func List() []string {
	return globalRegistry.List()
}

// Has checks if a source kind is registered in the global registry
func Has(sourceKind string) bool {
	return globalRegistry.Has(sourceKind)
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}
