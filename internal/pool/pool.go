// Package pool keeps one lazily created connection pool per tenant.
//
// Pools are built on first use, probed before they are published and closed
// after a period of inactivity. Concurrent first accesses for the same tenant
// share a single in-flight creation, so at most one live engine exists per
// slug. Accesses for different tenants never wait on each other's creation.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vvka-141/pgtenant/internal/retry"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// ErrClosed is returned by Get after CloseAll.
var ErrClosed = errors.New("tenant pool manager is closed")

// Decrypter recovers the plaintext role password of a tenant.
type Decrypter interface {
	Decrypt(encoded string) (string, error)
}

// Observer receives pool lifecycle events, typically for metrics.
type Observer interface {
	PoolCreated(slug string, took time.Duration)
	PoolCreateFailed(slug string)
	PoolEvicted(slug string)
	PoolClosed(slug string)
}

type nopObserver struct{}

func (nopObserver) PoolCreated(string, time.Duration) {}
func (nopObserver) PoolCreateFailed(string)           {}
func (nopObserver) PoolEvicted(string)                {}
func (nopObserver) PoolClosed(string)                 {}

type entry struct {
	engine   Engine
	lastUsed atomic.Int64 // unix nanoseconds
}

func (e *entry) touch(now time.Time) {
	e.lastUsed.Store(now.UnixNano())
}

// creation is an in-flight build shared by every caller waiting for the same slug.
type creation struct {
	done   chan struct{}
	gen    uint64
	engine Engine
	err    error
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout sets how long an unused pool survives.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithEvictionInterval sets the period of the eviction loop; 0 disables the loop.
func WithEvictionInterval(d time.Duration) Option {
	return func(m *Manager) { m.evictionInterval = d }
}

// WithRetryExecutor replaces the connectivity probe retry policy.
func WithRetryExecutor(e *retry.Executor) Option {
	return func(m *Manager) { m.retry = e }
}

// WithObserver registers lifecycle callbacks.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// Manager is safe for concurrent use.
type Manager struct {
	decrypter        Decrypter
	factory          EngineFactory
	logger           pgtenant.Logger
	retry            *retry.Executor
	observer         Observer
	idleTimeout      time.Duration
	evictionInterval time.Duration
	now              func() time.Time

	mu          sync.RWMutex
	entries     map[string]*entry
	creations   map[string]*creation
	generations map[string]uint64
	closed      bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a manager and starts its eviction loop. Panics on nil dependencies.
func New(decrypter Decrypter, factory EngineFactory, logger pgtenant.Logger, opts ...Option) *Manager {
	if decrypter == nil {
		panic("decrypter cannot be nil")
	}
	if factory == nil {
		panic("factory cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	m := &Manager{
		decrypter:        decrypter,
		factory:          factory,
		logger:           logger,
		observer:         nopObserver{},
		idleTimeout:      pgtenant.DefaultPoolIdleTimeout,
		evictionInterval: pgtenant.DefaultEvictionInterval,
		now:              time.Now,
		entries:          make(map[string]*entry),
		creations:        make(map[string]*creation),
		generations:      make(map[string]uint64),
		stop:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retry == nil {
		m.retry = retry.Default(logger, "tenant pool probe")
	}

	if m.evictionInterval > 0 {
		m.wg.Add(1)
		go m.evictionLoop()
	}
	return m
}

// Get returns the engine of snap.Slug, creating it on first use. A failed
// creation is never cached; the next call tries again.
func (m *Manager) Get(ctx context.Context, snap pgtenant.Snapshot) (Engine, error) {
	m.mu.RLock()
	if e, ok := m.entries[snap.Slug]; ok {
		e.touch(m.now())
		m.mu.RUnlock()
		return e.engine, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := m.entries[snap.Slug]; ok {
		e.touch(m.now())
		m.mu.Unlock()
		return e.engine, nil
	}
	gen := m.generations[snap.Slug]
	// A creation started before the last Close is doomed; start a fresh one.
	if c, ok := m.creations[snap.Slug]; ok && c.gen == gen {
		m.mu.Unlock()
		return wait(ctx, c)
	}
	c := &creation{done: make(chan struct{}), gen: gen}
	m.creations[snap.Slug] = c
	m.mu.Unlock()

	start := m.now()
	engine, err := m.build(ctx, snap)

	m.mu.Lock()
	if m.creations[snap.Slug] == c {
		delete(m.creations, snap.Slug)
	}
	if err == nil && (m.closed || m.generations[snap.Slug] != gen) {
		// Closed while building: the engine may carry revoked credentials.
		engine.Close()
		engine = nil
		err = fmt.Errorf("tenant %q: pool was closed during creation: %w", snap.Slug, pgtenant.ErrConnectionFailed)
	}
	if err == nil {
		e := &entry{engine: engine}
		e.touch(m.now())
		m.entries[snap.Slug] = e
	}
	c.engine, c.err = engine, err
	close(c.done)
	m.mu.Unlock()

	if err != nil {
		m.observer.PoolCreateFailed(snap.Slug)
		m.logger.Error("Tenant %q: %v", snap.Slug, err)
		return nil, err
	}
	m.observer.PoolCreated(snap.Slug, m.now().Sub(start))
	m.logger.Verbose("Created connection pool for tenant %q", snap.Slug)
	return engine, nil
}

func wait(ctx context.Context, c *creation) (Engine, error) {
	select {
	case <-c.done:
		return c.engine, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) build(ctx context.Context, snap pgtenant.Snapshot) (Engine, error) {
	if !snap.HasCredentials {
		return nil, fmt.Errorf("tenant %q has no stored credentials: %w", snap.Slug, pgtenant.ErrNotFound)
	}
	pw, err := m.decrypter.Decrypt(snap.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("tenant %q: %w", snap.Slug, err)
	}

	engine, err := m.factory(ctx, snap, pw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pgtenant.ErrConnectionFailed, err)
	}
	if err := m.retry.Execute(ctx, engine.Ping); err != nil {
		engine.Close()
		return nil, fmt.Errorf("tenant %q: connectivity probe failed: %w: %w", snap.Slug, pgtenant.ErrConnectionFailed, err)
	}
	return engine, nil
}

// Close disposes the engine of slug. Any Get that starts after Close returns
// builds a fresh engine, and a creation already in flight is discarded.
func (m *Manager) Close(slug string) {
	m.mu.Lock()
	m.generations[slug]++
	e, ok := m.entries[slug]
	delete(m.entries, slug)
	m.mu.Unlock()

	if !ok {
		return
	}
	e.engine.Close()
	m.observer.PoolClosed(slug)
	m.logger.Verbose("Closed connection pool for tenant %q", slug)
}

// CloseAll stops the eviction loop and disposes every engine. The manager
// rejects further Get calls.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for slug, e := range entries {
		g.Go(func() error {
			e.engine.Close()
			m.observer.PoolClosed(slug)
			return nil
		})
	}
	err := g.Wait()
	m.logger.Verbose("Closed %d tenant connection pool(s)", len(entries))
	return err
}

// Stats counts live pools and their connections.
func (m *Manager) Stats() pgtenant.PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := pgtenant.PoolStats{ActivePools: len(m.entries)}
	for _, e := range m.entries {
		stats.TotalConnections += int(e.engine.TotalConns())
	}
	return stats
}

func (m *Manager) evictionLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

// evictIdle removes every pool unused for longer than the idle timeout and
// returns their slugs. Removal happens under the write lock, so it cannot
// interleave with a Get refreshing the same entry.
func (m *Manager) evictIdle() []string {
	cutoff := m.now().Add(-m.idleTimeout).UnixNano()

	m.mu.Lock()
	var idle []string
	var engines []Engine
	for slug, e := range m.entries {
		if e.lastUsed.Load() < cutoff {
			idle = append(idle, slug)
			engines = append(engines, e.engine)
			delete(m.entries, slug)
		}
	}
	m.mu.Unlock()

	for i, engine := range engines {
		engine.Close()
		m.observer.PoolEvicted(idle[i])
		m.logger.Verbose("Evicted idle connection pool for tenant %q", idle[i])
	}
	return idle
}
