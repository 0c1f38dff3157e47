package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/oapi-codegen/runtime"

	"github.com/gaspardpetit/mcpbridge/internal/logx"
	"github.com/gaspardpetit/mcpbridge/internal/session"
	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

// acceptedBody is the body spec.md §6.1 mandates for a successful POST
// /messages: the HTTP response only acknowledges enqueue, it never carries
// the JSON-RPC reply itself — that is always delivered over the session's
// attached SSE/WS sink (§4.7.1).
var acceptedBody = map[string]string{"status": "accepted"}

// sessionQueryParam binds and validates the mandatory "session" query
// parameter the way a generated OpenAPI client/server would, using the
// same runtime helper oapi-codegen emits, rather than reading
// r.URL.Query() directly.
func sessionQueryParam(r *http.Request) (string, error) {
	var session string
	if err := runtime.BindQueryParameter("form", true, true, "session", r.URL.Query(), &session); err != nil {
		return "", err
	}
	if session == "" {
		return "", errors.New("missing required session query parameter")
	}
	return session, nil
}

// handleMessages accepts a single JSON-RPC message posted for an existing
// session (§4.7.2). A batch payload is rejected per spec (§6.7).
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionQueryParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8*1024*1024))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	msg, err := wire.Parse(body)
	if err != nil {
		code, message := wire.CodeParseError, "invalid JSON-RPC payload"
		if errors.Is(err, wire.ErrBatchNotSupported) {
			code, message = wire.CodeInvalidRequest, "batched requests are not supported"
		}
		s.deliverToSession(sess, wire.NewError(nil, code, message, nil))
		writeJSON(w, http.StatusAccepted, acceptedBody)
		return
	}
	if err := msg.Validate(); err != nil {
		s.deliverToSession(sess, wire.NewError(msg.ID, wire.CodeInvalidRequest, err.Error(), nil))
		writeJSON(w, http.StatusAccepted, acceptedBody)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	// Every reply the broker produces — a discovery answer, a block error,
	// or nothing at all when the request was forwarded for an async
	// response — is delivered over the session's sink, never as this HTTP
	// response body: a separate SSE/WS connection is what the client reads
	// from (§4.7.1 Scenario A).
	if resp := s.broker.HandleClientMessage(ctx, sessionID, msg); resp != nil {
		s.deliverToSession(sess, resp)
	}
	writeJSON(w, http.StatusAccepted, acceptedBody)
}

func (s *Server) deliverToSession(sess *session.Session, msg *wire.Message) {
	if err := sess.Enqueue(msg); err != nil {
		logx.Log.Warn().Str("session", sess.ID).Err(err).Msg("httpapi: failed to enqueue broker response to session")
	}
}
