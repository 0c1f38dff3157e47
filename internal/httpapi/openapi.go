package httpapi

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// handleOpenAPI serves a machine-readable description of the bridge's HTTP
// surface, built with the same openapi3 types internal/catalog uses to
// validate tool schemas.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "mcp-bridge",
			Version: "0.1.0",
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/sse", &openapi3.PathItem{
				Get: &openapi3.Operation{Summary: "Open an SSE stream for a session"},
			}),
			openapi3.WithPath("/messages", &openapi3.PathItem{
				Post: &openapi3.Operation{Summary: "Submit a JSON-RPC message for a session"},
			}),
			openapi3.WithPath("/ws", &openapi3.PathItem{
				Get: &openapi3.Operation{Summary: "Upgrade to a WebSocket transport for a session"},
			}),
			openapi3.WithPath("/sessions", &openapi3.PathItem{
				Post: &openapi3.Operation{Summary: "Create a new session"},
			}),
			openapi3.WithPath("/health", &openapi3.PathItem{
				Get: &openapi3.Operation{Summary: "Report bridge and child health"},
			}),
		),
	}
	writeJSON(w, http.StatusOK, doc)
}
