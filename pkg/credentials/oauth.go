package credentials

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

// OAuth2Grant describes one client-credentials grant.
type OAuth2Grant struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// OAuth2Resolver exchanges client credentials for access tokens. Each
// resolve performs a token fetch; put a CachingResolver in front to bound
// the fetch rate.
type OAuth2Resolver struct {
	grants map[string]OAuth2Grant

	// HTTPClient overrides the client used for token requests. Nil uses
	// the oauth2 package default.
	HTTPClient *http.Client
}

// NewOAuth2Resolver creates a resolver over the given ref -> grant map.
func NewOAuth2Resolver(grants map[string]OAuth2Grant) *OAuth2Resolver {
	copied := make(map[string]OAuth2Grant, len(grants))
	for ref, g := range grants {
		copied[ref] = g
	}
	return &OAuth2Resolver{grants: copied}
}

// Known implements refAware.
func (r *OAuth2Resolver) Known(ref string) bool {
	_, ok := r.grants[ref]
	return ok
}

// Resolve implements Resolver.
func (r *OAuth2Resolver) Resolve(ctx context.Context, ref string) (Credentials, error) {
	grant, ok := r.grants[ref]
	if !ok {
		return nil, errors.New(errors.ErrorTypeCredential, "unknown credential ref").
			WithDetail("ref", ref)
	}

	cfg := &clientcredentials.Config{
		TokenURL:     grant.TokenURL,
		ClientID:     grant.ClientID,
		ClientSecret: grant.ClientSecret,
		Scopes:       grant.Scopes,
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}

	token, err := cfg.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCredential, "failed to obtain access token").
			WithDetail("ref", ref).
			WithDetail("token_url", grant.TokenURL)
	}

	return Credentials{
		KeyAccessToken: token.AccessToken,
		KeyTokenType:   token.Type(),
	}, nil
}
