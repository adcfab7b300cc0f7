// Package httpapi exposes tenant administration and tenant-scoped routing
// over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vvka-141/pgtenant/internal/pool"
	"github.com/vvka-141/pgtenant/internal/tenant"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// Tenants is the lifecycle surface used by the admin routes.
type Tenants interface {
	Create(ctx context.Context, req tenant.CreateRequest, actor string) (pgtenant.Snapshot, error)
	Provision(ctx context.Context, slug, actor, adminPassword string) (*pgtenant.ProvisionResult, error)
	UpdateStatus(ctx context.Context, slug string, next pgtenant.Status, actor string) (pgtenant.Snapshot, error)
	RotateCredentials(ctx context.Context, slug, actor string) error
	Delete(ctx context.Context, slug string, deleteDatabase bool, actor string) error
	Check(ctx context.Context, slug string) pgtenant.HealthReport
	ResetAdminPassword(ctx context.Context, slug string, opts tenant.ResetOptions, actor string) (*pgtenant.PasswordReset, error)
	Get(ctx context.Context, slug string) (pgtenant.Snapshot, error)
	List(ctx context.Context, statuses ...pgtenant.Status) ([]pgtenant.Snapshot, error)
	AuditLog(ctx context.Context, slug string, limit int) ([]pgtenant.AuditLogEntry, error)
}

// Acquirer resolves a tenant and hands out its engine.
type Acquirer interface {
	Acquire(ctx context.Context, slug string) (pgtenant.Snapshot, pool.Engine, error)
}

// PoolStats reports live pools.
type PoolStats interface {
	Stats() pgtenant.PoolStats
}

// Pinger checks the registry.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures an API.
type Option func(*API)

// WithMetrics mounts /metrics and instruments every route.
func WithMetrics(handler http.Handler, middleware func(http.Handler) http.Handler) Option {
	return func(a *API) {
		a.metricsHandler = handler
		a.metricsMiddleware = middleware
	}
}

// WithTenantRoutes mounts extra tenant-scoped routes under /t, behind
// TenantMiddleware.
func WithTenantRoutes(mount func(r chi.Router)) Option {
	return func(a *API) { a.tenantRoutes = append(a.tenantRoutes, mount) }
}

// API holds the handlers and their dependencies.
type API struct {
	tenants  Tenants
	resolver Acquirer
	pools    PoolStats
	registry Pinger
	logger   pgtenant.Logger

	metricsHandler    http.Handler
	metricsMiddleware func(http.Handler) http.Handler
	tenantRoutes      []func(r chi.Router)
}

// New panics on nil dependencies.
func New(tenants Tenants, resolver Acquirer, pools PoolStats, registry Pinger, logger pgtenant.Logger, opts ...Option) *API {
	if tenants == nil {
		panic("tenants cannot be nil")
	}
	if resolver == nil {
		panic("resolver cannot be nil")
	}
	if pools == nil {
		panic("pools cannot be nil")
	}
	if registry == nil {
		panic("registry cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	a := &API{tenants: tenants, resolver: resolver, pools: pools, registry: registry, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler builds the chi router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(chimiddleware.Recoverer)
	if a.metricsMiddleware != nil {
		r.Use(a.metricsMiddleware)
	}

	r.Get("/healthz", a.healthz)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Get("/pools", a.poolStats)
		r.Route("/tenants", func(r chi.Router) {
			r.Post("/", a.createTenant)
			r.Get("/", a.listTenants)
			r.Route("/{slug}", func(r chi.Router) {
				r.Get("/", a.getTenant)
				r.Delete("/", a.deleteTenant)
				r.Post("/provision", a.provisionTenant)
				r.Put("/status", a.updateStatus)
				r.Post("/rotate", a.rotateCredentials)
				r.Get("/health", a.checkTenant)
				r.Post("/reset-admin-password", a.resetAdminPassword)
				r.Get("/audit", a.auditLog)
			})
		})
	})

	r.Route("/t", func(r chi.Router) {
		r.Use(a.TenantMiddleware)
		r.Get("/whoami", a.whoami)
		for _, mount := range a.tenantRoutes {
			mount(r)
		}
	})
	return r
}
