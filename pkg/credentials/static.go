package credentials

import (
	"context"

	"github.com/ajitpratap0/accretion/pkg/errors"
)

// StaticResolver serves credentials from a fixed in-process map. Backs the
// static section of the credentials configuration and test setups.
type StaticResolver struct {
	byRef map[string]Credentials
}

// NewStaticResolver creates a resolver over the given ref -> secrets map.
func NewStaticResolver(byRef map[string]map[string]string) *StaticResolver {
	r := &StaticResolver{byRef: make(map[string]Credentials, len(byRef))}
	for ref, kv := range byRef {
		creds := make(Credentials, len(kv))
		for k, v := range kv {
			creds[k] = v
		}
		r.byRef[ref] = creds
	}
	return r
}

// Known implements refAware.
func (r *StaticResolver) Known(ref string) bool {
	_, ok := r.byRef[ref]
	return ok
}

// Resolve implements Resolver. Returns a copy so callers cannot mutate the
// stored secrets.
func (r *StaticResolver) Resolve(_ context.Context, ref string) (Credentials, error) {
	creds, ok := r.byRef[ref]
	if !ok {
		return nil, errors.New(errors.ErrorTypeCredential, "unknown credential ref").
			WithDetail("ref", ref)
	}
	out := make(Credentials, len(creds))
	for k, v := range creds {
		out[k] = v
	}
	return out, nil
}
