package httpapi

import (
	"net/http"
	"time"

	"github.com/gaspardpetit/mcpbridge/internal/child"
)

// contentFilteringStatus is the §6.1 content_filtering sub-object.
type contentFilteringStatus struct {
	Enabled bool     `json:"enabled"`
	Filters []string `json:"filters"`
}

// healthResponse matches spec.md §6.1's GET /health contract exactly.
type healthResponse struct {
	Status           string                 `json:"status"`
	ChildState       string                 `json:"child_state"`
	SessionCount     int                    `json:"session_count"`
	PendingRequests  int                    `json:"pending_requests"`
	FilterCount      int                    `json:"filter_count"`
	UptimeS          int64                  `json:"uptime_s"`
	ContentFiltering contentFilteringStatus `json:"content_filtering"`
}

// childHealthStatus collapses the five-state child health machine down to
// the three-value status §6.1 documents.
func childHealthStatus(h child.Health) string {
	switch h {
	case child.Degraded:
		return "degraded"
	case child.Dead, child.Terminal:
		return "dead"
	default:
		return "ok"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.broker.ChildHealth()
	status := http.StatusOK
	if h == child.Terminal {
		status = http.StatusServiceUnavailable
	}

	cf := contentFilteringStatus{Filters: []string{}}
	if s.contentFilter != nil {
		cf.Enabled = true
		cf.Filters = s.contentFilter.FilterNames()
	}

	writeJSON(w, status, healthResponse{
		Status:           childHealthStatus(h),
		ChildState:       h.String(),
		SessionCount:     s.sessions.Count(),
		PendingRequests:  s.broker.Registry().Len(),
		FilterCount:      len(s.broker.Filters().List()),
		UptimeS:          int64(time.Since(s.started).Seconds()),
		ContentFiltering: cf,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.broker.ChildHealth() == child.Terminal {
		http.Error(w, "child is terminal", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
