package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

// sseSink adapts an http.ResponseWriter/Flusher pair into a session.Sink,
// serializing writes so concurrent deliveries never interleave (§4.7.3).
type sseSink struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

// Send delivers an ordinary message as a named "message" event, per
// §4.7.3 item 2.
func (s *sseSink) Send(msg *wire.Message) error {
	frame, err := wire.Canonicalize(msg)
	if err != nil {
		return err
	}
	// frame already ends in "\n" (the stdio framing terminator); strip it
	// so the SSE record's own blank-line terminator is the only trailer.
	return s.SendEvent("message", string(bytes.TrimRight(frame, "\n")))
}

// SendEvent writes one named SSE event. Implements session.EventSink so the
// session store can deliver the mandatory final "end" event on close
// (§4.7.3 item 4).
func (s *sseSink) SendEvent(event string, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleSSE opens a server-sent-events stream bound to a session, created
// on demand if the caller did not first POST to /sessions. The first event
// on the stream is always "endpoint" (§4.7.3); a non-normative "connected"
// event carrying the session id follows it for clients that find it
// convenient to log (§3 of SPEC_FULL.md's supplemented features).
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session")
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		sess = s.sessions.Create()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, f: flusher}

	endpointURL := s.advertiseBase(r) + "/messages?session=" + sess.ID
	if err := sink.SendEvent("endpoint", endpointURL); err != nil {
		return
	}

	connectedPayload, _ := json.Marshal(map[string]string{"session_id": sess.ID})
	_ = sink.SendEvent("connected", string(connectedPayload))

	sess.AttachSink(sink)
	defer sess.DetachSink()

	heartbeat := newHeartbeatTicker()
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C():
			sink.mu.Lock()
			_, err := fmt.Fprint(w, ":heartbeat\n\n")
			if err == nil {
				flusher.Flush()
			}
			sink.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
