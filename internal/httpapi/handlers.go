package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vvka-141/pgtenant/internal/tenant"
	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// ActorHeader identifies the operator behind an admin request.
const ActorHeader = "X-Actor"

const defaultAuditLimit = 50

func actor(r *http.Request) string {
	return r.Header.Get(ActorHeader)
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %v: %w", err, pgtenant.ErrValidation)
	}
	return nil
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Ping(r.Context()); err != nil {
		a.logger.Warn("Registry health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "registry": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "registry": "ok"})
}

func (a *API) poolStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.pools.Stats())
}

func (a *API) createTenant(w http.ResponseWriter, r *http.Request) {
	var req tenant.CreateRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	snap, err := a.tenants.Create(r.Context(), req, actor(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) listTenants(w http.ResponseWriter, r *http.Request) {
	var statuses []pgtenant.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := pgtenant.Status(strings.TrimSpace(s))
			if !status.IsValid() {
				a.writeError(w, r, fmt.Errorf("status %q: %w", status, pgtenant.ErrValidation))
				return
			}
			statuses = append(statuses, status)
		}
	}
	snaps, err := a.tenants.List(r.Context(), statuses...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []pgtenant.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": snaps, "count": len(snaps)})
}

func (a *API) getTenant(w http.ResponseWriter, r *http.Request) {
	snap, err := a.tenants.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type provisionRequest struct {
	AdminPassword string `json:"admin_password"`
}

func (a *API) provisionTenant(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.tenants.Provision(r.Context(), chi.URLParam(r, "slug"), actor(r), req.AdminPassword)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusRequest struct {
	Status pgtenant.Status `json:"status"`
}

func (a *API) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	snap, err := a.tenants.UpdateStatus(r.Context(), chi.URLParam(r, "slug"), req.Status, actor(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) rotateCredentials(w http.ResponseWriter, r *http.Request) {
	if err := a.tenants.RotateCredentials(r.Context(), chi.URLParam(r, "slug"), actor(r)); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteTenant(w http.ResponseWriter, r *http.Request) {
	deleteDatabase := false
	if raw := r.URL.Query().Get("delete_database"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("delete_database %q: %w", raw, pgtenant.ErrValidation))
			return
		}
		deleteDatabase = v
	}
	if err := a.tenants.Delete(r.Context(), chi.URLParam(r, "slug"), deleteDatabase, actor(r)); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) checkTenant(w http.ResponseWriter, r *http.Request) {
	report := a.tenants.Check(r.Context(), chi.URLParam(r, "slug"))
	status := http.StatusOK
	if !report.Accessible {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

type resetRequest struct {
	AdminEmail    string `json:"admin_email"`
	NewPassword   string `json:"new_password"`
	AllowFallback bool   `json:"allow_fallback"`
}

func (a *API) resetAdminPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.tenants.ResetAdminPassword(r.Context(), chi.URLParam(r, "slug"), tenant.ResetOptions{
		AdminEmail:    req.AdminEmail,
		NewPassword:   req.NewPassword,
		AllowFallback: req.AllowFallback,
	}, actor(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) auditLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.writeError(w, r, fmt.Errorf("limit %q: %w", raw, pgtenant.ErrValidation))
			return
		}
		limit = n
	}
	entries, err := a.tenants.AuditLog(r.Context(), chi.URLParam(r, "slug"), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []pgtenant.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) whoami(w http.ResponseWriter, r *http.Request) {
	snap, _ := SnapshotFromContext(r.Context())
	writeJSON(w, http.StatusOK, snap)
}
