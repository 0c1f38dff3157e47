// OAuth-metadata endpoints do not implement a real OAuth flow: the bridge's
// auth model is the BRIDGE_AUTH_MODE none|bearer|apikey contract. These
// stubs exist so strict MCP clients that probe for OAuth discovery before
// falling back to a static credential do not fail outright. Field naming
// follows the original proof-of-concept's get_oauth_metadata() shape.
package httpapi

import "net/http"

func (s *Server) handleOAuthAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := s.advertiseBase(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/no-auth-required",
		"token_endpoint":                         base + "/no-auth-required",
		"registration_endpoint":                  base + "/register",
		"scopes_supported":                       []string{},
		"response_types_supported":               []string{"code"},
		"grant_types_supported":                  []string{"authorization_code"},
		"code_challenge_methods_supported":       []string{"S256"},
		"token_endpoint_auth_methods_supported":  []string{"none"},
	})
}

func (s *Server) handleOAuthProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	base := s.advertiseBase(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":              base,
		"authorization_servers": []string{base},
	})
}

func (s *Server) handleOAuthRegister(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"client_id":     "mcp-bridge-static-client",
		"client_secret": "",
		"redirect_uris": []string{},
	})
}

func (s *Server) handleNoAuthRequired(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"error": "no_authentication_required"})
}
