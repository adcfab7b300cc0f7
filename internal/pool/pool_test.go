package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgtenant/internal/logging"
	"github.com/vvka-141/pgtenant/internal/retry"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

type fakeEngine struct {
	slug    string
	pingErr error
	closed  atomic.Bool
}

func (e *fakeEngine) Ping(context.Context) error { return e.pingErr }
func (e *fakeEngine) TotalConns() int32          { return 2 }
func (e *fakeEngine) Close()                     { e.closed.Store(true) }

type plainDecrypter struct{}

func (plainDecrypter) Decrypt(s string) (string, error) {
	if s == "tampered" {
		return "", pgtenant.ErrDecryption
	}
	return s, nil
}

// countingFactory counts creations and can hold them until released.
type countingFactory struct {
	created atomic.Int32
	gate    chan struct{}
	pingErr error

	mu      sync.Mutex
	engines []*fakeEngine
}

func (f *countingFactory) build(ctx context.Context, snap pgtenant.Snapshot, password string) (Engine, error) {
	f.created.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	e := &fakeEngine{slug: snap.Slug, pingErr: f.pingErr}
	f.mu.Lock()
	f.engines = append(f.engines, e)
	f.mu.Unlock()
	return e, nil
}

func noRetry() *retry.Executor {
	return retry.NewExecutor(retry.NewPostgreSQLErrorClassifier(), retry.NewExponentialBackoff(0))
}

func newTestManager(f *countingFactory, opts ...Option) *Manager {
	opts = append([]Option{WithEvictionInterval(0), WithRetryExecutor(noRetry())}, opts...)
	return New(plainDecrypter{}, f.build, logging.NewNullLogger(), opts...)
}

func snapshot(slug string) pgtenant.Snapshot {
	return pgtenant.Snapshot{
		Slug:              slug,
		DatabaseName:      "tenant_" + slug,
		DatabaseUser:      "tenant_" + slug + "_user",
		Status:            pgtenant.StatusActive,
		HasCredentials:    true,
		EncryptedPassword: "secret",
	}
}

func TestGet_ReusesEngine(t *testing.T) {
	f := &countingFactory{}
	m := newTestManager(f)
	defer m.CloseAll(context.Background())

	a, err := m.Get(context.Background(), snapshot("acme"))
	require.NoError(t, err)
	b, err := m.Get(context.Background(), snapshot("acme"))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.EqualValues(t, 1, f.created.Load())
	assert.Equal(t, pgtenant.PoolStats{ActivePools: 1, TotalConnections: 2}, m.Stats())
}

func TestGet_ConcurrentFirstAccessCreatesOneEngine(t *testing.T) {
	f := &countingFactory{gate: make(chan struct{})}
	m := newTestManager(f)
	defer m.CloseAll(context.Background())

	const n = 50
	var wg sync.WaitGroup
	engines := make([]Engine, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engines[i], errs[i] = m.Get(context.Background(), snapshot("acme"))
		}()
	}

	require.Eventually(t, func() bool { return f.created.Load() == 1 }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.EqualValues(t, 1, f.created.Load())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Same(t, engines[0], engines[i])
	}
}

func TestGet_DifferentTenantsDoNotBlockEachOther(t *testing.T) {
	slow := &countingFactory{gate: make(chan struct{})}
	fast := &countingFactory{}
	factory := func(ctx context.Context, snap pgtenant.Snapshot, pw string) (Engine, error) {
		if snap.Slug == "slow" {
			return slow.build(ctx, snap, pw)
		}
		return fast.build(ctx, snap, pw)
	}
	m := New(plainDecrypter{}, factory, logging.NewNullLogger(), WithEvictionInterval(0), WithRetryExecutor(noRetry()))
	defer m.CloseAll(context.Background())

	go m.Get(context.Background(), snapshot("slow")) //nolint:errcheck
	require.Eventually(t, func() bool { return slow.created.Load() == 1 }, time.Second, time.Millisecond)

	_, err := m.Get(context.Background(), snapshot("fast"))
	require.NoError(t, err)
	close(slow.gate)
}

func TestGet_ProbeFailureIsNotCached(t *testing.T) {
	f := &countingFactory{pingErr: errors.New("password authentication failed")}
	m := newTestManager(f)
	defer m.CloseAll(context.Background())

	_, err := m.Get(context.Background(), snapshot("acme"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pgtenant.ErrConnectionFailed)
	assert.True(t, f.engines[0].closed.Load(), "half-built engine must be disposed")
	assert.Zero(t, m.Stats().ActivePools)

	f.pingErr = nil
	_, err = m.Get(context.Background(), snapshot("acme"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.created.Load())
}

func TestGet_FailureIsolatedPerTenant(t *testing.T) {
	f := &countingFactory{}
	m := newTestManager(f)
	defer m.CloseAll(context.Background())

	broken := snapshot("broken")
	broken.EncryptedPassword = "tampered"
	_, err := m.Get(context.Background(), broken)
	assert.ErrorIs(t, err, pgtenant.ErrDecryption)

	_, err = m.Get(context.Background(), snapshot("acme"))
	assert.NoError(t, err)
}

func TestGet_MissingCredentials(t *testing.T) {
	m := newTestManager(&countingFactory{})
	defer m.CloseAll(context.Background())

	snap := snapshot("acme")
	snap.HasCredentials = false
	_, err := m.Get(context.Background(), snap)
	assert.ErrorIs(t, err, pgtenant.ErrNotFound)
}

func TestClose_NextGetBuildsFreshEngine(t *testing.T) {
	f := &countingFactory{}
	m := newTestManager(f)
	defer m.CloseAll(context.Background())

	first, err := m.Get(context.Background(), snapshot("acme"))
	require.NoError(t, err)

	m.Close("acme")
	assert.True(t, first.(*fakeEngine).closed.Load())
	assert.Zero(t, m.Stats().ActivePools)

	second, err := m.Get(context.Background(), snapshot("acme"))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, f.created.Load())
}

func TestClose_DiscardsInFlightCreation(t *testing.T) {
	f := &countingFactory{gate: make(chan struct{})}
	m := newTestManager(f)
	defer m.CloseAll(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := m.Get(context.Background(), snapshot("acme"))
		errc <- err
	}()
	require.Eventually(t, func() bool { return f.created.Load() == 1 }, time.Second, time.Millisecond)

	m.Close("acme")
	close(f.gate)

	assert.ErrorIs(t, <-errc, pgtenant.ErrConnectionFailed)
	assert.True(t, f.engines[0].closed.Load())
	assert.Zero(t, m.Stats().ActivePools)
}

func TestGetAfterClose_DoesNotJoinDoomedCreation(t *testing.T) {
	f := &countingFactory{gate: make(chan struct{})}
	m := newTestManager(f)
	defer m.CloseAll(context.Background())

	doomed := make(chan error, 1)
	go func() {
		_, err := m.Get(context.Background(), snapshot("acme"))
		doomed <- err
	}()
	require.Eventually(t, func() bool { return f.created.Load() == 1 }, time.Second, time.Millisecond)

	m.Close("acme")

	type result struct {
		engine Engine
		err    error
	}
	fresh := make(chan result, 1)
	go func() {
		e, err := m.Get(context.Background(), snapshot("acme"))
		fresh <- result{e, err}
	}()
	require.Eventually(t, func() bool { return f.created.Load() == 2 }, time.Second, time.Millisecond,
		"a Get after Close must start its own creation")
	close(f.gate)

	assert.ErrorIs(t, <-doomed, pgtenant.ErrConnectionFailed)
	got := <-fresh
	require.NoError(t, got.err)
	assert.False(t, got.engine.(*fakeEngine).closed.Load())
	assert.Equal(t, 1, m.Stats().ActivePools)

	again, err := m.Get(context.Background(), snapshot("acme"))
	require.NoError(t, err)
	assert.Same(t, got.engine, again)
	assert.EqualValues(t, 2, f.created.Load())

	f.mu.Lock()
	defer f.mu.Unlock()
	closed := 0
	for _, e := range f.engines {
		if e.closed.Load() {
			closed++
		}
	}
	assert.Equal(t, 1, closed, "only the doomed engine is closed")
}

func TestEvictIdle(t *testing.T) {
	f := &countingFactory{}
	m := newTestManager(f, WithIdleTimeout(10*time.Minute))
	defer m.CloseAll(context.Background())

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	idle, err := m.Get(context.Background(), snapshot("idle"))
	require.NoError(t, err)
	_, err = m.Get(context.Background(), snapshot("busy"))
	require.NoError(t, err)

	now = now.Add(9 * time.Minute)
	_, err = m.Get(context.Background(), snapshot("busy"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	evicted := m.evictIdle()

	assert.Equal(t, []string{"idle"}, evicted)
	assert.True(t, idle.(*fakeEngine).closed.Load())
	assert.Equal(t, 1, m.Stats().ActivePools)
}

func TestEvictionLoop_Runs(t *testing.T) {
	f := &countingFactory{}
	m := New(plainDecrypter{}, f.build, logging.NewNullLogger(),
		WithRetryExecutor(noRetry()),
		WithIdleTimeout(time.Millisecond),
		WithEvictionInterval(5*time.Millisecond))
	defer m.CloseAll(context.Background())

	_, err := m.Get(context.Background(), snapshot("acme"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return m.Stats().ActivePools == 0 }, time.Second, 5*time.Millisecond)
}

func TestCloseAll(t *testing.T) {
	f := &countingFactory{}
	m := New(plainDecrypter{}, f.build, logging.NewNullLogger(),
		WithRetryExecutor(noRetry()), WithEvictionInterval(time.Hour))

	for _, slug := range []string{"a1", "b2", "c3"} {
		_, err := m.Get(context.Background(), snapshot(slug))
		require.NoError(t, err)
	}

	require.NoError(t, m.CloseAll(context.Background()))
	for _, e := range f.engines {
		assert.True(t, e.closed.Load())
	}
	assert.Zero(t, m.Stats().ActivePools)

	_, err := m.Get(context.Background(), snapshot("a1"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, m.CloseAll(context.Background()))
}

func TestGet_WaiterHonoursContext(t *testing.T) {
	f := &countingFactory{gate: make(chan struct{})}
	m := newTestManager(f)
	defer m.CloseAll(context.Background())

	go m.Get(context.Background(), snapshot("acme")) //nolint:errcheck
	require.Eventually(t, func() bool { return f.created.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Get(ctx, snapshot("acme"))
	assert.ErrorIs(t, err, context.Canceled)
	close(f.gate)
}
