package credentials

import (
	"context"
	"sync"
	"time"
)

// CachingResolver memoizes successful resolutions for a bounded TTL. The
// TTL stays short so credential rotations propagate within minutes.
// Failures are never cached and never served stale: a broken credential
// must surface on the next attempt, not hide behind an old value.
type CachingResolver struct {
	inner Resolver
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	creds     Credentials
	fetchedAt time.Time
}

// NewCachingResolver wraps inner with a TTL cache. A non-positive TTL
// disables caching.
func NewCachingResolver(inner Resolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Resolve implements Resolver.
func (r *CachingResolver) Resolve(ctx context.Context, ref string) (Credentials, error) {
	if r.ttl > 0 {
		r.mu.Lock()
		entry, ok := r.entries[ref]
		if ok && r.now().Sub(entry.fetchedAt) < r.ttl {
			creds := entry.creds
			r.mu.Unlock()
			return creds, nil
		}
		r.mu.Unlock()
	}

	creds, err := r.inner.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.entries[ref] = cacheEntry{creds: creds, fetchedAt: r.now()}
		r.mu.Unlock()
	}
	return creds, nil
}

// Known implements refAware by delegating to the wrapped resolver.
func (r *CachingResolver) Known(ref string) bool {
	if ra, ok := r.inner.(refAware); ok {
		return ra.Known(ref)
	}
	return true
}

// Invalidate drops the cached entry for ref, forcing the next resolve to
// hit the source. Used after an attempt fails with a credential error.
func (r *CachingResolver) Invalidate(ref string) {
	r.mu.Lock()
	delete(r.entries, ref)
	r.mu.Unlock()
}
