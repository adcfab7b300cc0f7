package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtenant/internal/pool"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

type fakeLookup struct {
	mu      sync.Mutex
	tenants map[string]*pgtenant.Tenant
	queries atomic.Int32
}

func (f *fakeLookup) GetBySlug(_ context.Context, slug string) (*pgtenant.Tenant, *pgtenant.Credentials, error) {
	f.queries.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[slug]
	if !ok {
		return nil, nil, fmt.Errorf("tenant %q: %w", slug, pgtenant.ErrNotFound)
	}
	clone := *t
	return &clone, &pgtenant.Credentials{TenantID: t.ID, EncryptedPassword: "enc"}, nil
}

func (f *fakeLookup) setStatus(slug string, s pgtenant.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[slug].Status = s
}

type fakeEngine struct{}

func (fakeEngine) Ping(context.Context) error { return nil }
func (fakeEngine) TotalConns() int32          { return 1 }
func (fakeEngine) Close()                     {}

type fakePools struct {
	calls atomic.Int32
	err   error
}

func (f *fakePools) Get(context.Context, pgtenant.Snapshot) (pool.Engine, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return fakeEngine{}, nil
}

type countingObserver struct{ hits, misses int }

func (o *countingObserver) CacheHit(string)  { o.hits++ }
func (o *countingObserver) CacheMiss(string) { o.misses++ }

func newLookup(statuses map[string]pgtenant.Status) *fakeLookup {
	f := &fakeLookup{tenants: map[string]*pgtenant.Tenant{}}
	for slug, s := range statuses {
		f.tenants[slug] = &pgtenant.Tenant{
			ID:               uuid.New(),
			Slug:             slug,
			Name:             slug,
			DatabaseName:     "tenant_" + slug,
			DatabaseUser:     "tenant_" + slug + "_user",
			Status:           s,
			RequiredGroupIDs: []string{"g1"},
		}
	}
	return f
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	lookup := newLookup(map[string]pgtenant.Status{"acme": pgtenant.StatusActive})
	obs := &countingObserver{}
	r := New(lookup, &fakePools{}, WithTTL(time.Minute), WithObserver(obs))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	first, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	now = now.Add(59 * time.Second)
	second, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)

	assert.EqualValues(t, 1, lookup.queries.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, pgtenant.StatusActive, first.Status)
	assert.True(t, first.HasCredentials)
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)

	now = now.Add(2 * time.Second)
	_, err = r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 2, lookup.queries.Load(), "stale entry must be refetched")
}

func TestResolve_ReturnsIndependentCopies(t *testing.T) {
	r := New(newLookup(map[string]pgtenant.Status{"acme": pgtenant.StatusActive}), &fakePools{})

	a, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	a.RequiredGroupIDs[0] = "mutated"

	b, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "g1", b.RequiredGroupIDs[0])
}

func TestResolve_NotFound(t *testing.T) {
	r := New(newLookup(nil), &fakePools{})
	_, err := r.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, pgtenant.ErrNotFound)
	assert.Zero(t, r.Len())
}

func TestResolve_RejectsMalformedSlugWithoutLookup(t *testing.T) {
	lookup := newLookup(map[string]pgtenant.Status{"acme": pgtenant.StatusActive})
	pools := &fakePools{}
	r := New(lookup, pools)

	for _, slug := range []string{"Bad Slug'; --", "ACME", "a", "-acme", "acme_co"} {
		_, err := r.Resolve(context.Background(), slug)
		assert.ErrorIs(t, err, pgtenant.ErrValidation, slug)

		_, engine, err := r.Acquire(context.Background(), slug)
		assert.ErrorIs(t, err, pgtenant.ErrValidation, slug)
		assert.Nil(t, engine)
	}
	assert.Zero(t, lookup.queries.Load(), "malformed slugs must not reach the registry")
	assert.Zero(t, pools.calls.Load())
	assert.Zero(t, r.Len())
}

func TestInvalidate(t *testing.T) {
	lookup := newLookup(map[string]pgtenant.Status{"acme": pgtenant.StatusActive, "globex": pgtenant.StatusActive})
	r := New(lookup, &fakePools{})
	ctx := context.Background()

	_, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	lookup.setStatus("acme", pgtenant.StatusSuspended)

	snap, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, pgtenant.StatusActive, snap.Status, "cached until invalidated")

	r.Invalidate("acme")
	snap, err = r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, pgtenant.StatusSuspended, snap.Status)

	_, err = r.Resolve(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	r.InvalidateAll()
	assert.Zero(t, r.Len())
}

func TestAcquire_GatesByStatus(t *testing.T) {
	tests := []struct {
		status pgtenant.Status
		reason string
	}{
		{pgtenant.StatusPending, "not yet provisioned"},
		{pgtenant.StatusSuspended, "access revoked"},
		{pgtenant.StatusArchived, "archived"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			pools := &fakePools{}
			r := New(newLookup(map[string]pgtenant.Status{"acme": tt.status}), pools)

			snap, engine, err := r.Acquire(context.Background(), "acme")

			require.Error(t, err)
			assert.ErrorIs(t, err, pgtenant.ErrForbidden)
			var se *pgtenant.StatusError
			require.True(t, errors.As(err, &se))
			assert.Contains(t, se.Reason(), tt.reason)
			assert.Equal(t, tt.status, snap.Status)
			assert.Nil(t, engine)
			assert.Zero(t, pools.calls.Load(), "no pool may be created for a rejected tenant")
		})
	}
}

func TestAcquire_Active(t *testing.T) {
	pools := &fakePools{}
	r := New(newLookup(map[string]pgtenant.Status{"acme": pgtenant.StatusActive}), pools)

	snap, engine, err := r.Acquire(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", snap.Slug)
	assert.NotNil(t, engine)
	assert.EqualValues(t, 1, pools.calls.Load())
}

func TestAcquire_PoolFailureIsConnectionError(t *testing.T) {
	pools := &fakePools{err: fmt.Errorf("probe: %w", pgtenant.ErrConnectionFailed)}
	r := New(newLookup(map[string]pgtenant.Status{"acme": pgtenant.StatusActive}), pools)

	_, _, err := r.Acquire(context.Background(), "acme")
	assert.ErrorIs(t, err, pgtenant.ErrConnectionFailed)
	assert.NotErrorIs(t, err, pgtenant.ErrNotFound)
	assert.NotErrorIs(t, err, pgtenant.ErrForbidden)
}
