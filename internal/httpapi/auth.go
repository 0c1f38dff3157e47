package httpapi

import (
	"net/http"
	"strings"

	"github.com/gaspardpetit/mcpbridge/internal/config"
)

// publicPaths never require authentication regardless of --auth-mode, so
// health checks, metrics scrapers, and OAuth discovery keep working.
var publicPaths = map[string]bool{
	"/health":                                  true,
	"/metrics":                                 true,
	"/.well-known/oauth-authorization-server":  true,
	"/.well-known/oauth-protected-resource":    true,
	"/no-auth-required":                        true,
	"/live":                                    true,
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || s.cfg.AuthMode == config.AuthModeNone {
			next.ServeHTTP(w, r)
			return
		}
		if !s.authorized(r) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-bridge"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	switch s.cfg.AuthMode {
	case config.AuthModeAPIKey:
		return r.Header.Get("X-API-Key") == s.cfg.APIKey && s.cfg.APIKey != ""
	case config.AuthModeBearer:
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		return token != "" && token == s.cfg.Bearer
	default:
		return true
	}
}
