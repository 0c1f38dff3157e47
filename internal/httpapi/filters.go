package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gaspardpetit/mcpbridge/internal/contentfilter"
)

func (s *Server) handleListFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Filters().List())
}

type setFilterRequest struct {
	Enabled bool `json:"enabled"`
}

// handleSetFilter toggles the filter named by the {name} path segment
// (§4.6, §4.7.1).
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req setFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.broker.Filters().SetEnabled(name, req.Enabled) {
		http.Error(w, "unknown filter", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFilterMetrics reports per-filter counters (e.g.
// pii_redactor.redactions.email) for the content-filter middleware, when
// configured (Scenario C).
func (s *Server) handleFilterMetrics(w http.ResponseWriter, r *http.Request) {
	if s.contentFilter == nil {
		writeJSON(w, http.StatusOK, map[string]int64{})
		return
	}
	writeJSON(w, http.StatusOK, s.contentFilter.Metrics())
}

// handleReloadContentFilter accepts a full replacement content-filter
// config (JSON or YAML, sniffed by leading byte) and atomically swaps it
// into the content-filter middleware, if one is configured.
func (s *Server) handleReloadContentFilter(w http.ResponseWriter, r *http.Request) {
	if s.contentFilter == nil {
		http.Error(w, "content filter middleware is not configured", http.StatusNotFound)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	cfg, err := contentfilter.ParseConfig(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.contentFilter.Reload(cfg)
	w.WriteHeader(http.StatusNoContent)
}
