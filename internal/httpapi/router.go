// Package httpapi exposes the bridge over HTTP: SSE and WebSocket
// transports for JSON-RPC traffic, session lifecycle endpoints, filter
// chain inspection/control, health, metrics, and OAuth-metadata stubs
// (§4.7, C7).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/mcpbridge/internal/broker"
	"github.com/gaspardpetit/mcpbridge/internal/config"
	"github.com/gaspardpetit/mcpbridge/internal/contentfilter"
	"github.com/gaspardpetit/mcpbridge/internal/session"
)

// Server wires the broker and session store into an HTTP handler.
type Server struct {
	broker         *broker.Broker
	sessions       *session.Store
	cfg            *config.BridgeConfig
	contentFilter  *contentfilter.Middleware
	requestTimeout time.Duration
	started        time.Time
}

// New constructs the bridge's HTTP handler. contentFilter may be nil when
// no --content-filter-config was supplied.
func New(b *broker.Broker, sessions *session.Store, cfg *config.BridgeConfig, cf *contentfilter.Middleware) http.Handler {
	s := &Server{broker: b, sessions: sessions, cfg: cfg, contentFilter: cf, requestTimeout: cfg.RequestTimeout, started: time.Now()}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.authMiddleware)

	r.Get("/sse", s.handleSSE)
	r.Post("/messages", s.handleMessages)
	r.Get("/ws", s.handleWS)
	r.Post("/sessions", s.handleCreateSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	r.Get("/health", s.handleHealth)
	r.Get("/filters", s.handleListFilters)
	r.Get("/filters/metrics", s.handleFilterMetrics)
	r.Post("/filters/config", s.handleReloadContentFilter)
	r.Post("/filters/{name}", s.handleSetFilter)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)
	r.Get("/.well-known/oauth-authorization-server", s.handleOAuthAuthServerMetadata)
	r.Get("/.well-known/oauth-protected-resource", s.handleOAuthProtectedResourceMetadata)
	r.Post("/register", s.handleOAuthRegister)
	r.Get("/no-auth-required", s.handleNoAuthRequired)
	r.Post("/no-auth-required", s.handleNoAuthRequired)
	r.Get("/live", s.handleLive)

	return r
}

func (s *Server) advertiseBase(r *http.Request) string {
	if s.cfg.AdvertiseURL != "" {
		return s.cfg.AdvertiseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
