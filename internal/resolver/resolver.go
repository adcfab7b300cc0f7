// Package resolver maps a tenant slug to a cached Snapshot and, through
// Acquire, to the tenant's connection pool after checking its status.
//
// Cached snapshots are served for up to the TTL without touching the
// registry. Callers that change a tenant must Invalidate it; otherwise a
// stale snapshot may be served until the entry expires.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vvka-141/pgtenant/internal/identifier"
	"github.com/vvka-141/pgtenant/internal/pool"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// Lookup is the registry read used on a cache miss.
type Lookup interface {
	GetBySlug(ctx context.Context, slug string) (*pgtenant.Tenant, *pgtenant.Credentials, error)
}

// Pools hands out tenant engines.
type Pools interface {
	Get(ctx context.Context, snap pgtenant.Snapshot) (pool.Engine, error)
}

// Observer receives cache events.
type Observer interface {
	CacheHit(slug string)
	CacheMiss(slug string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)  {}
func (nopObserver) CacheMiss(string) {}

type cacheEntry struct {
	snap      pgtenant.Snapshot
	fetchedAt time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL sets how long a snapshot is served from cache.
func WithTTL(d time.Duration) Option {
	return func(r *Resolver) { r.ttl = d }
}

// WithObserver registers cache callbacks.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// Resolver is safe for concurrent use.
type Resolver struct {
	lookup   Lookup
	pools    Pools
	observer Observer
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a resolver. Panics if lookup or pools is nil.
func New(lookup Lookup, pools Pools, opts ...Option) *Resolver {
	if lookup == nil {
		panic("lookup cannot be nil")
	}
	if pools == nil {
		panic("pools cannot be nil")
	}
	r := &Resolver{
		lookup:   lookup,
		pools:    pools,
		observer: nopObserver{},
		ttl:      pgtenant.DefaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the snapshot of slug. A malformed slug yields ErrValidation
// without a registry lookup and an unknown slug yields ErrNotFound.
// The returned snapshot is a copy the caller may keep.
func (r *Resolver) Resolve(ctx context.Context, slug string) (pgtenant.Snapshot, error) {
	if err := identifier.ValidateSlug(slug); err != nil {
		return pgtenant.Snapshot{}, err
	}
	r.mu.RLock()
	e, ok := r.cache[slug]
	r.mu.RUnlock()
	if ok && r.now().Sub(e.fetchedAt) < r.ttl {
		r.observer.CacheHit(slug)
		return e.snap.Clone(), nil
	}
	r.observer.CacheMiss(slug)

	t, creds, err := r.lookup.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, pgtenant.ErrNotFound) {
			r.Invalidate(slug)
		}
		return pgtenant.Snapshot{}, err
	}
	snap := pgtenant.NewSnapshot(t, creds)

	r.mu.Lock()
	r.cache[slug] = cacheEntry{snap: snap, fetchedAt: r.now()}
	r.mu.Unlock()
	return snap.Clone(), nil
}

// Acquire resolves slug, rejects tenants that are not active and returns the
// tenant's engine. Errors distinguish ErrNotFound, ErrForbidden (as a
// *pgtenant.StatusError) and ErrConnectionFailed; no pool is created for a
// rejected tenant.
func (r *Resolver) Acquire(ctx context.Context, slug string) (pgtenant.Snapshot, pool.Engine, error) {
	snap, err := r.Resolve(ctx, slug)
	if err != nil {
		return pgtenant.Snapshot{}, nil, err
	}
	if err := Gate(snap); err != nil {
		return snap, nil, err
	}
	engine, err := r.pools.Get(ctx, snap)
	if err != nil {
		return snap, nil, fmt.Errorf("tenant %q unavailable: %w", slug, err)
	}
	return snap, engine, nil
}

// Gate returns a *pgtenant.StatusError unless snap is active.
func Gate(snap pgtenant.Snapshot) error {
	if snap.Status != pgtenant.StatusActive {
		return &pgtenant.StatusError{Slug: snap.Slug, Status: snap.Status}
	}
	return nil
}

// Invalidate drops the cached snapshot of slug.
func (r *Resolver) Invalidate(slug string) {
	r.mu.Lock()
	delete(r.cache, slug)
	r.mu.Unlock()
}

// InvalidateAll empties the cache.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

// Len returns the number of cached snapshots, fresh or stale.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
