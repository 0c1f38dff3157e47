// Package registry allocates bridge-unique request ids and resolves child
// responses back to the session and original client id that issued the
// request (§4.3, C3).
package registry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Entry tracks one outstanding request's correlation state.
type Entry struct {
	SessionID  string
	OriginalID json.RawMessage
	Method     string
	IssuedAt   time.Time
}

// Registry allocates bridge_id values and resolves them back to the
// originating session/id on response. Notifications are never registered.
type Registry struct {
	mu      sync.Mutex
	next    uint64
	pending map[string]Entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{pending: make(map[string]Entry)}
}

// Allocate assigns a fresh bridge_id for a client request, recording the
// session and original client id needed to rewrite the eventual response.
// The returned id is a bare string safe to marshal as a JSON-RPC id.
func (r *Registry) Allocate(sessionID string, originalID json.RawMessage, method string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	bridgeID := fmt.Sprintf("b%d", r.next)
	r.pending[bridgeID] = Entry{
		SessionID:  sessionID,
		OriginalID: append(json.RawMessage{}, originalID...),
		Method:     method,
		IssuedAt:   time.Now(),
	}
	return bridgeID
}

// Resolve looks up and removes the entry for bridgeID, returning false if it
// was never registered or has already been resolved.
func (r *Registry) Resolve(bridgeID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[bridgeID]
	if ok {
		delete(r.pending, bridgeID)
	}
	return e, ok
}

// Peek looks up the entry without removing it, used for timeout sweeps.
func (r *Registry) Peek(bridgeID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.pending[bridgeID]
	return e, ok
}

// Cancel removes bridgeID without requiring a matching response, used when
// a session closes while requests are still outstanding.
func (r *Registry) Cancel(bridgeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, bridgeID)
}

// SweepExpired removes and returns entries older than maxAge so callers can
// synthesize -32000 timeout responses for them.
func (r *Registry) SweepExpired(maxAge time.Duration) map[string]Entry {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	expired := make(map[string]Entry)
	for id, e := range r.pending {
		if e.IssuedAt.Before(cutoff) {
			expired[id] = e
			delete(r.pending, id)
		}
	}
	return expired
}

// CancelSession removes every pending entry belonging to sessionID,
// returning their bridge ids so the caller can notify the child if needed.
func (r *Registry) CancelSession(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, e := range r.pending {
		if e.SessionID == sessionID {
			ids = append(ids, id)
			delete(r.pending, id)
		}
	}
	return ids
}

// Len reports the number of outstanding requests, used by /health.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// BridgeIDJSON marshals a bridge id as a JSON-RPC id value (a JSON string).
func BridgeIDJSON(bridgeID string) json.RawMessage {
	b, _ := json.Marshal(bridgeID)
	return b
}

// Known reports whether idJSON matches an outstanding bridge id, used to
// classify an inbound child message as a response vs. a server-initiated
// request (wire.Message.IsServerRequest). Bridge ids are always JSON
// strings, so a numeric or malformed id is never known.
func (r *Registry) Known(idJSON json.RawMessage) bool {
	var bridgeID string
	if err := json.Unmarshal(idJSON, &bridgeID); err != nil {
		return false
	}
	_, ok := r.Peek(bridgeID)
	return ok
}
