package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethpandaops/automatoor/pkg/dispatcher"
	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
	maxBodyBytes     = 1 << 20
	projectName      = "automatoor"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// messageResponse acknowledges requests that have no resource to return.
type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps store and dispatcher errors onto HTTP statuses.
// resource names the entity in not-found messages.
func (s *server) writeStoreError(
	w http.ResponseWriter, r *http.Request, resource string, err error,
) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, resource+" not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispatcher.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")

		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes a JSON request body into v. It writes a 400 and
// returns false when the body is not valid JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())

		return false
	}

	return true
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}

	return uint(id), nil
}

// queryUint parses an optional positive integer query parameter. A missing
// parameter yields 0.
func queryUint(r *http.Request, name string) (uint, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}

	return uint(v), nil
}

// pageFromQuery reads skip and limit. Limit defaults to 100.
func pageFromQuery(r *http.Request) (store.Page, error) {
	page := store.Page{Limit: defaultPageLimit}
	q := r.URL.Query()

	if raw := q.Get("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return page, fmt.Errorf("invalid skip %q", raw)
		}

		page.Offset = skip
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPageLimit {
			return page, fmt.Errorf(
				"invalid limit %q: must be between 1 and %d", raw, maxPageLimit,
			)
		}

		page.Limit = limit
	}

	return page, nil
}

// handleHealth reports liveness and the automation mode.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"mock_mode": s.cfg.Automation.MockMode,
		"project":   projectName,
	})
}
