package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vvka-141/pgtenant/internal/pool"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// TenantHeader names the tenant of a request explicitly.
const TenantHeader = "X-Tenant-Slug"

type contextKey int

const (
	snapshotKey contextKey = iota
	poolKey
)

// SnapshotFromContext returns the tenant resolved by TenantMiddleware.
func SnapshotFromContext(ctx context.Context) (pgtenant.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotKey).(pgtenant.Snapshot)
	return snap, ok
}

// PoolFromContext returns the engine of the tenant resolved by TenantMiddleware.
func PoolFromContext(ctx context.Context) (pool.Engine, bool) {
	engine, ok := ctx.Value(poolKey).(pool.Engine)
	return engine, ok
}

// TenantMiddleware resolves the tenant of each request and rejects requests
// for unknown, inactive or unreachable tenants before they reach next.
func (a *API) TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := slugFromRequest(r)
		if slug == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "tenant not specified"})
			return
		}
		snap, engine, err := a.resolver.Acquire(r.Context(), slug)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), snapshotKey, snap)
		ctx = context.WithValue(ctx, poolKey, engine)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// slugFromRequest prefers the tenant header and falls back to the first label
// of a host with at least three labels, e.g. acme.app.example.com.
func slugFromRequest(r *http.Request) string {
	if slug := strings.TrimSpace(r.Header.Get(TenantHeader)); slug != "" {
		return strings.ToLower(slug)
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 || labels[0] == "www" {
		return ""
	}
	return strings.ToLower(labels[0])
}

// requestLogger logs one line per request through the service logger.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Verbose("%s %s %d %s req=%s", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}
