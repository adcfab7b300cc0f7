package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vvka-141/pgtenant/pkg/pgtenant"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// statusForError maps the sentinel error taxonomy to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pgtenant.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pgtenant.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pgtenant.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, pgtenant.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, pgtenant.ErrConnectionFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError hides the detail of internal errors and connection failures;
// they can carry hostnames and driver messages.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	body := errorBody{Error: err.Error()}

	var statusErr *pgtenant.StatusError
	if errors.As(err, &statusErr) {
		body.Error = "tenant is not available"
		body.Reason = statusErr.Reason()
	}
	switch status {
	case http.StatusInternalServerError:
		a.logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
		body.Error = http.StatusText(status)
	case http.StatusServiceUnavailable:
		a.logger.Warn("%s %s: %v", r.Method, r.URL.Path, err)
		body.Error = "tenant database unavailable"
	}
	writeJSON(w, status, body)
}
