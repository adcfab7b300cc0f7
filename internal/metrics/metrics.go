// Package metrics exposes pgtenant's Prometheus collectors. Each Metrics owns
// its registry, so several instances can coexist in one test binary.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

const namespace = "pgtenant"

// StatsFunc reports the live pool counts.
type StatsFunc func() pgtenant.PoolStats

type Metrics struct {
	registry *prometheus.Registry

	PoolEvents         *prometheus.CounterVec
	PoolCreateDuration prometheus.Histogram
	CacheLookups       *prometheus.CounterVec
	TenantOperations   *prometheus.CounterVec
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PoolEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "events_total",
			Help:      "Tenant pool lifecycle events.",
		}, []string{"event"}),
		PoolCreateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "create_duration_seconds",
			Help:      "Time to build and probe a tenant pool.",
			Buckets:   prometheus.DefBuckets,
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "cache_lookups_total",
			Help:      "Tenant snapshot cache lookups by result.",
		}, []string{"result"}),
		TenantOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant",
			Name:      "operations_total",
			Help:      "Tenant lifecycle operations by outcome.",
		}, []string{"operation", "outcome"}),
		RequestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.PoolEvents, m.PoolCreateDuration, m.CacheLookups, m.TenantOperations,
		m.RequestCount, m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterPoolStats exports the live pool and connection counts as gauges.
func (m *Metrics) RegisterPoolStats(stats StatsFunc) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "active",
			Help:      "Live tenant pools.",
		}, func() float64 { return float64(stats().ActivePools) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "connections",
			Help:      "Open connections across all tenant pools.",
		}, func() float64 { return float64(stats().TotalConnections) }),
	)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) PoolCreated(_ string, took time.Duration) {
	m.PoolEvents.WithLabelValues("created").Inc()
	m.PoolCreateDuration.Observe(took.Seconds())
}

func (m *Metrics) PoolCreateFailed(string) { m.PoolEvents.WithLabelValues("create_failed").Inc() }
func (m *Metrics) PoolEvicted(string)      { m.PoolEvents.WithLabelValues("evicted").Inc() }
func (m *Metrics) PoolClosed(string)       { m.PoolEvents.WithLabelValues("closed").Inc() }

func (m *Metrics) CacheHit(string)  { m.CacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss(string) { m.CacheLookups.WithLabelValues("miss").Inc() }

// Operation counts a tenant lifecycle operation.
func (m *Metrics) Operation(name string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.TenantOperations.WithLabelValues(name, outcome).Inc()
}

// Middleware records request counts and latency labelled by chi route pattern,
// so tenant slugs and ids never become label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestCount.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
