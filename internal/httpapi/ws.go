package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/mcpbridge/internal/logx"
	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

// wsSink adapts a coder/websocket connection into a session.Sink.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(msg *wire.Message) error {
	frame, err := wire.Canonicalize(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, frame)
}

// handleWS upgrades the connection and pumps JSON-RPC frames in both
// directions for the lifetime of the socket (§4.7.4).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionQueryParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		sess = s.sessions.Create()
	}
	sessionID = sess.ID

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	sink := &wsSink{conn: conn}
	sess.AttachSink(sink)
	defer sess.DetachSink()

	go s.wsPingLoop(r.Context(), conn)

	for {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		_, data, err := conn.Read(ctx)
		cancel()
		if err != nil {
			return
		}
		msg, err := wire.Parse(data)
		if err != nil {
			continue
		}
		if err := msg.Validate(); err != nil {
			continue
		}

		reqCtx, reqCancel := context.WithTimeout(r.Context(), s.requestTimeout)
		resp := s.broker.HandleClientMessage(reqCtx, sessionID, msg)
		reqCancel()
		if resp != nil {
			if err := sink.Send(resp); err != nil {
				logx.Log.Warn().Str("session", sessionID).Err(err).Msg("httpapi: failed to write ws response")
				return
			}
		}
	}
}

func (s *Server) wsPingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
