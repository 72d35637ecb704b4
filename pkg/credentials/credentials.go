// Package credentials resolves connector credential references into
// concrete secrets at attempt start.
//
// Connector definitions carry an opaque CredentialRef instead of secrets.
// A Resolver turns the ref into a Credentials map when an attempt begins,
// so rotations propagate without touching connector rows and secrets never
// rest in the attempt or checkpoint stores.
//
// Resolution failures carry ErrorTypeCredential. Callers must not retry
// them inside an attempt: a missing or expired secret does not heal on its
// own, and retrying only burns the attempt on a failure that needs operator
// action.
package credentials

import (
	"context"

	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/errors"
)

// Well-known credential keys.
const (
	KeyAccessToken = "access_token"
	KeyAPIToken    = "api_token"
	KeyTokenType   = "token_type"
	KeyUsername    = "username"
	KeyPassword    = "password"
)

// Credentials is a flat key/value secret bundle for one connector.
type Credentials map[string]string

// Get returns the value for key, or "" when absent.
func (c Credentials) Get(key string) string {
	return c[key]
}

// BearerToken returns the token to present as an Authorization bearer
// value: access_token when present, api_token otherwise.
func (c Credentials) BearerToken() string {
	if tok := c[KeyAccessToken]; tok != "" {
		return tok
	}
	return c[KeyAPIToken]
}

// Resolver resolves a credential ref into secrets.
type Resolver interface {
	// Resolve returns the credentials for ref. Failures, including an
	// unknown ref, return an error of ErrorTypeCredential.
	Resolve(ctx context.Context, ref string) (Credentials, error)
}

// refAware is implemented by resolvers that can cheaply report whether a
// ref belongs to them. ChainResolver uses it to route instead of probing.
type refAware interface {
	Known(ref string) bool
}

// ChainResolver routes each ref to the first resolver that knows it.
// Resolvers without ref awareness are tried unconditionally.
type ChainResolver struct {
	resolvers []Resolver
}

// NewChainResolver creates a resolver over the given resolvers in order.
func NewChainResolver(resolvers ...Resolver) *ChainResolver {
	return &ChainResolver{resolvers: resolvers}
}

// Resolve implements Resolver.
func (r *ChainResolver) Resolve(ctx context.Context, ref string) (Credentials, error) {
	for _, res := range r.resolvers {
		if ra, ok := res.(refAware); ok && !ra.Known(ref) {
			continue
		}
		return res.Resolve(ctx, ref)
	}
	return nil, errors.New(errors.ErrorTypeCredential, "unknown credential ref").
		WithDetail("ref", ref)
}

// Known implements refAware for nested chains.
func (r *ChainResolver) Known(ref string) bool {
	for _, res := range r.resolvers {
		ra, ok := res.(refAware)
		if !ok || ra.Known(ref) {
			return true
		}
	}
	return false
}

// FromConfig assembles the production resolver: static refs and OAuth
// grants from configuration, behind a cache.
func FromConfig(cfg config.CredentialsConfig) Resolver {
	grants := make(map[string]OAuth2Grant, len(cfg.OAuth))
	for ref, spec := range cfg.OAuth {
		grants[ref] = OAuth2Grant{
			TokenURL:     spec.TokenURL,
			ClientID:     spec.ClientID,
			ClientSecret: spec.ClientSecret,
			Scopes:       spec.Scopes,
		}
	}
	chain := NewChainResolver(
		NewStaticResolver(cfg.Static),
		NewOAuth2Resolver(grants),
	)
	return NewCachingResolver(chain, cfg.CacheTTL)
}
