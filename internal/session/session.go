// Package session implements the per-client session store: a bounded
// outbound queue per session, the sink (SSE/WS) currently attached to it,
// and the drop-oldest/hard-cap backpressure policy (§4.4, C4).
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaspardpetit/mcpbridge/internal/logx"
	"github.com/gaspardpetit/mcpbridge/internal/metrics"
	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

// ErrSessionClosed is returned by operations on a session that has already
// been removed from the store.
var ErrSessionClosed = errors.New("session: closed")

// ErrUnknownSession is returned when a session id does not exist.
var ErrUnknownSession = errors.New("session: unknown session id")

// CloseReason enumerates why a session was removed, used for metrics and
// any final notification to the client.
type CloseReason string

const (
	ReasonClientClose  CloseReason = "client_close"
	ReasonSlowConsumer CloseReason = "slow_consumer"
	ReasonIdleTimeout  CloseReason = "idle_timeout"
	ReasonShutdown     CloseReason = "shutdown"
)

// Sink is anything a session can deliver outbound messages to: an SSE
// stream writer or a WebSocket connection.
type Sink interface {
	Send(msg *wire.Message) error
}

// EventSink is implemented by sinks that frame deliveries as named events
// (SSE); a WS sink has no such framing and does not implement it. When a
// session's current sink is an EventSink, the mandatory final "end" event
// (§4.7.3 item 4) is sent to it before the session is closed.
type EventSink interface {
	SendEvent(event string, data string) error
}

// Session tracks one client's outbound queue and currently attached sink.
// All mutation is serialized through mu so a session has a single logical
// owner at a time even though reads/writes can come from different
// goroutines (the HTTP handler attaching a sink, the broker pushing
// messages).
type Session struct {
	ID string

	mu            sync.Mutex
	queue         []*wire.Message
	maxQueueDepth int
	hardCap       int
	sink          Sink
	dropped       int
	closed        bool
	lastActivity  time.Time
	detachedAt    time.Time
}

func newSession(id string, maxQueueDepth, hardCapMultiple int) *Session {
	return &Session{
		ID:            id,
		maxQueueDepth: maxQueueDepth,
		hardCap:       maxQueueDepth * hardCapMultiple,
		lastActivity:  time.Now(),
	}
}

// Enqueue appends msg to the session's outbound queue, applying drop-oldest
// once maxQueueDepth is exceeded and reporting ErrSessionClosed if the hard
// cap is breached, counting both the queued messages and those dropped since
// the queue was last drained (the caller is expected to then remove the
// session with ReasonSlowConsumer).
func (s *Session) Enqueue(msg *wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.queue = append(s.queue, msg)
	for len(s.queue) > s.maxQueueDepth {
		s.queue = s.queue[1:]
		s.dropped++
		metrics.QueueDropped(s.ID)
	}
	if len(s.queue)+s.dropped > s.hardCap {
		return ErrSessionClosed
	}
	s.lastActivity = time.Now()
	if s.sink != nil {
		s.flushLocked()
	}
	if len(s.queue) == 0 {
		s.dropped = 0
	}
	return nil
}

// AttachSink connects a delivery sink and flushes any backlog accumulated
// while the session had none.
func (s *Session) AttachSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
	s.detachedAt = time.Time{}
	s.lastActivity = time.Now()
	s.flushLocked()
}

// DetachSink removes the current sink, e.g. on client disconnect, starting
// the session's detach grace period.
func (s *Session) DetachSink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = nil
	s.detachedAt = time.Now()
}

func (s *Session) flushLocked() {
	for len(s.queue) > 0 {
		msg := s.queue[0]
		if err := s.sink.Send(msg); err != nil {
			logx.Log.Warn().Str("session", s.ID).Err(err).Msg("session: sink delivery failed, detaching")
			s.sink = nil
			s.detachedAt = time.Now()
			return
		}
		s.queue = s.queue[1:]
	}
}

// idleFor reports how long the session has had no sink attached and no
// queued traffic, used by the store's sweeper.
func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		return 0
	}
	return now.Sub(s.lastActivity)
}

func (s *Session) detachedFor(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil || s.detachedAt.IsZero() {
		return 0, false
	}
	return now.Sub(s.detachedAt), true
}

func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink, ok := s.sink.(EventSink); ok {
		if err := sink.SendEvent("end", ""); err != nil {
			logx.Log.Debug().Str("session", s.ID).Err(err).Msg("session: failed to send end event on close")
		}
	}
	s.closed = true
	s.sink = nil
	s.queue = nil
}

// Store holds every live session.
type Store struct {
	mu              sync.Mutex
	sessions        map[string]*Session
	maxQueueDepth   int
	hardCapMultiple int
	idleTimeout     time.Duration
	detachGrace     time.Duration
}

// New constructs an empty Store.
func New(maxQueueDepth, hardCapMultiple int, idleTimeout, detachGrace time.Duration) *Store {
	return &Store{
		sessions:        make(map[string]*Session),
		maxQueueDepth:   maxQueueDepth,
		hardCapMultiple: hardCapMultiple,
		idleTimeout:     idleTimeout,
		detachGrace:     detachGrace,
	}
}

// Create allocates a new session with a fresh uuid and registers it.
func (st *Store) Create() *Session {
	id := uuid.NewString()
	s := newSession(id, st.maxQueueDepth, st.hardCapMultiple)
	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()
	metrics.SessionOpened()
	return s
}

// Get looks up a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Remove deletes a session and reports its closure.
func (st *Store) Remove(id string, reason CloseReason) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return
	}
	s.markClosed()
	metrics.SessionClosed(string(reason))
	logx.Log.Info().Str("session", id).Str("reason", string(reason)).Msg("session: closed")
}

// All returns a snapshot of every live session, used for broadcast.
func (st *Store) All() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// SweepIdle removes sessions that have exceeded the idle timeout (no sink,
// no traffic) or the detach grace period (sink gone, never reattached).
func (st *Store) SweepIdle() {
	now := time.Now()
	st.mu.Lock()
	var toRemove []string
	for id, s := range st.sessions {
		if d, detached := s.detachedFor(now); detached && d > st.detachGrace {
			toRemove = append(toRemove, id)
			continue
		}
		if st.idleTimeout > 0 && s.idleFor(now) > st.idleTimeout {
			toRemove = append(toRemove, id)
		}
	}
	st.mu.Unlock()
	for _, id := range toRemove {
		st.Remove(id, ReasonIdleTimeout)
	}
}

// Count reports how many sessions are currently live, used by /health.
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
