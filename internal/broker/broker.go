// Package broker is the central coordinator: it wires the framing/child
// supervisor, request registry, session store, and filter chain together,
// implementing discovery short-circuiting and the dual-answered initialize
// handshake (§4.5, C5). Heartbeats are sent by the HTTP transports in
// internal/httpapi, not by the broker.
package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gaspardpetit/mcpbridge/internal/catalog"
	"github.com/gaspardpetit/mcpbridge/internal/child"
	"github.com/gaspardpetit/mcpbridge/internal/filter"
	"github.com/gaspardpetit/mcpbridge/internal/logx"
	"github.com/gaspardpetit/mcpbridge/internal/metrics"
	"github.com/gaspardpetit/mcpbridge/internal/registry"
	"github.com/gaspardpetit/mcpbridge/internal/session"
	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

// discoveryMethods are answered locally from the static catalog instead of
// being forwarded to the child (§4.5.3).
var discoveryMethods = map[string]bool{
	"tools/list":     true,
	"resources/list": true,
	"prompts/list":   true,
}

// initCatalogSession is a sentinel session id used to register the
// fire-and-forget initialize request sent to the child so its own response
// can be recognized in routeResponse and folded into the catalog (§6.4)
// instead of being delivered to a client that never asked for it.
const initCatalogSession = "\x00bridge-init-catalog"

// Options configures broker behavior derived from the open-question
// decisions recorded for this bridge.
type Options struct {
	BroadcastServerRequests bool
	LocalInitialize         bool
	ProtocolVersion         string
	RequestTimeout          time.Duration
}

// Broker coordinates one child process against N client sessions.
type Broker struct {
	opts     Options
	child    *child.Supervisor
	registry *registry.Registry
	sessions *session.Store
	chain    *filter.Chain
	catalog  *catalog.Catalog

	mu        sync.Mutex
	inFlight  int
	maxFlight int
}

// New constructs a Broker over an already-started child supervisor.
func New(c *child.Supervisor, sessions *session.Store, chain *filter.Chain, cat *catalog.Catalog, maxInFlight int, opts Options) *Broker {
	b := &Broker{
		opts:      opts,
		child:     c,
		registry:  registry.New(),
		sessions:  sessions,
		chain:     chain,
		catalog:   cat,
		maxFlight: maxInFlight,
	}
	c.OnFrame(b.HandleChildFrame)
	return b
}

// Registry exposes the request registry for /health reporting.
func (b *Broker) Registry() *registry.Registry { return b.registry }

// ChildHealth exposes the supervised child's current health state.
func (b *Broker) ChildHealth() child.Health { return b.child.Health() }

// Filters exposes the filter chain for the /filters inspection endpoints.
func (b *Broker) Filters() *filter.Chain { return b.chain }

// HandleChildFrame is wired as the child supervisor's OnFrame callback: it
// parses one frame from the child's stdout and routes a correlated response
// to its originating session, broadcasting notifications, server-initiated
// requests, and responses whose id is not a JSON string; a response whose
// string id matches no pending request is dropped (§4.5.2, grounded on the
// original proof-of-concept's pump()).
func (b *Broker) HandleChildFrame(frame []byte) {
	msg, err := wire.Parse(frame)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("broker: dropping malformed frame from child")
		return
	}

	// An id that resolves against the registry is a response even if the
	// child echoed the method field back too: correlation against the
	// bridge's own pending-request map takes priority over shape-based
	// classification (mirrors the original proof-of-concept's broker.py,
	// which checks id_to_session before treating a frame as server
	// traffic).
	if len(msg.ID) > 0 && !msg.IsServerRequest(b.registry.Known) {
		b.routeResponse(msg)
		return
	}

	switch {
	case msg.Method != "" && len(msg.ID) == 0:
		b.routeServerNotification(msg)
	case msg.Method != "" && len(msg.ID) > 0:
		b.routeServerRequest(msg)
	default:
		logx.Log.Warn().Msg("broker: dropping frame from child with neither method nor id")
	}
}

func (b *Broker) routeResponse(msg *wire.Message) {
	var bridgeID string
	if err := json.Unmarshal(msg.ID, &bridgeID); err != nil {
		logx.Log.Warn().Msg("broker: response id is not a bridge id, broadcasting instead")
		b.broadcast(msg)
		return
	}
	entry, ok := b.registry.Resolve(bridgeID)
	if !ok {
		logx.Log.Debug().Str("bridge_id", bridgeID).Msg("broker: response for unknown/expired bridge id, dropping")
		return
	}
	metrics.RecordRequest("ok")
	metrics.ObserveRequestDuration(entry.Method, time.Since(entry.IssuedAt))
	b.child.MarkReady()

	if entry.SessionID == initCatalogSession {
		if msg.Error == nil && b.catalog != nil {
			b.catalog.MergeFromInitialize(msg.Result)
		}
		return
	}

	sess, ok := b.sessions.Get(entry.SessionID)
	if !ok {
		return
	}
	rewritten := msg.WithID(entry.OriginalID)
	b.deliver(sess, entry.SessionID, rewritten)
}

// routeServerRequest handles the rare case of the child issuing its own
// request (with an id the bridge never allocated). Per the bridge's
// broadcast-server-requests default, it is fanned out to every session.
func (b *Broker) routeServerRequest(msg *wire.Message) {
	if !b.opts.BroadcastServerRequests {
		return
	}
	b.broadcast(msg)
}

func (b *Broker) routeServerNotification(msg *wire.Message) {
	b.broadcast(msg)
}

func (b *Broker) broadcast(msg *wire.Message) {
	for _, sess := range b.sessions.All() {
		b.deliver(sess, sess.ID, msg)
	}
}

func (b *Broker) deliver(sess *session.Session, sessionID string, msg *wire.Message) {
	result := b.chain.Apply(filter.Inbound, sessionID, msg)
	switch result.Action {
	case filter.Drop, filter.Block:
		return
	}
	if err := sess.Enqueue(result.Message); err != nil {
		logx.Log.Warn().Str("session", sessionID).Err(err).Msg("broker: failed to enqueue to session")
		b.CloseSession(sessionID, session.ReasonSlowConsumer)
	}
}

// CloseSession removes a session and cancels any requests still outstanding
// on its behalf, so the registry never accumulates entries for a session
// that will never receive their responses.
func (b *Broker) CloseSession(sessionID string, reason session.CloseReason) {
	b.sessions.Remove(sessionID, reason)
	b.registry.CancelSession(sessionID)
}

// HandleClientMessage routes one message from a client session toward the
// child, applying the outbound filter chain. Discovery methods are answered
// locally instead of being forwarded; initialize (when LocalInitialize is
// set) is answered locally and also forwarded to the child.
func (b *Broker) HandleClientMessage(ctx context.Context, sessionID string, msg *wire.Message) *wire.Message {
	result := b.chain.Apply(filter.Outbound, sessionID, msg)
	switch result.Action {
	case filter.Drop:
		return nil
	case filter.Block:
		return wire.NewError(msg.ID, result.Err.Code, result.Err.Message, result.Err.Data)
	}
	msg = result.Message

	switch msg.Classify() {
	case wire.KindNotification:
		b.forwardNotification(msg)
		return nil
	case wire.KindResponse:
		// A client answering a server-initiated request; forward as-is.
		b.forwardRaw(msg)
		return nil
	case wire.KindRequest:
		return b.handleRequest(ctx, sessionID, msg)
	default:
		return wire.NewError(msg.ID, wire.CodeInvalidRequest, "message has neither method nor id", nil)
	}
}

func (b *Broker) handleRequest(ctx context.Context, sessionID string, msg *wire.Message) *wire.Message {
	if msg.Method == "initialize" && b.opts.LocalInitialize {
		b.forwardInitializeForCatalog(msg)
		result, err := wire.LocalInitializeResult(b.opts.ProtocolVersion).MarshalResult()
		if err != nil {
			return wire.NewError(msg.ID, wire.CodeParseError, "failed to encode initialize result", nil)
		}
		return wire.NewResult(msg.ID, result)
	}

	if discoveryMethods[msg.Method] {
		return wire.NewResult(msg.ID, b.answerDiscovery(msg.Method))
	}

	return b.forwardAndWait(ctx, sessionID, msg)
}

// answerDiscovery always answers a discovery method locally, per §4.5.1's
// "may be empty list" — an empty catalog is a valid answer, never a reason
// to forward to the child.
func (b *Broker) answerDiscovery(method string) json.RawMessage {
	var payload any
	switch method {
	case "tools/list":
		tools := []catalog.Tool{}
		if b.catalog != nil {
			tools = b.catalog.Tools()
		}
		payload = map[string]any{"tools": tools}
	case "resources/list":
		resources := []catalog.Resource{}
		if b.catalog != nil {
			resources = b.catalog.Resources()
		}
		payload = map[string]any{"resources": resources}
	case "prompts/list":
		prompts := []catalog.Prompt{}
		if b.catalog != nil {
			prompts = b.catalog.Prompts()
		}
		payload = map[string]any{"prompts": prompts}
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}

func (b *Broker) forwardAndWait(ctx context.Context, sessionID string, msg *wire.Message) *wire.Message {
	if !b.acquireSlot(ctx) {
		return wire.NewError(msg.ID, wire.CodeUpstreamUnavailable, "bridge is at capacity", nil)
	}
	defer b.releaseSlot()

	if b.child.Health() == child.Terminal {
		return wire.NewError(msg.ID, wire.CodeUpstreamUnavailable, "child process is in a terminal state", nil)
	}

	bridgeID := b.registry.Allocate(sessionID, msg.ID, msg.Method)
	forwarded := msg.WithID(registry.BridgeIDJSON(bridgeID))
	frame, err := wire.Canonicalize(forwarded)
	if err != nil {
		b.registry.Cancel(bridgeID)
		return wire.NewError(msg.ID, wire.CodeParseError, "failed to encode request", nil)
	}
	if err := b.child.Write(frame); err != nil {
		b.registry.Cancel(bridgeID)
		metrics.RecordRequest("upstream_unavailable")
		return wire.NewError(msg.ID, wire.CodeUpstreamUnavailable, "failed to reach child process", nil)
	}
	// The response arrives asynchronously via HandleChildFrame and is
	// delivered to the session's queue; no synchronous reply here.
	return nil
}

func (b *Broker) forwardNotification(msg *wire.Message) {
	frame, err := wire.Canonicalize(msg)
	if err != nil {
		return
	}
	_ = b.child.Write(frame)
}

// forwardInitializeForCatalog sends the initialize request to the child
// fire-and-forget: the bridge already answered the client locally. The
// request is registered under a sentinel session so its eventual response
// is recognized in routeResponse and folded into the catalog (§6.4) instead
// of being dropped as an unresolvable bridge id.
func (b *Broker) forwardInitializeForCatalog(msg *wire.Message) {
	bridgeID := b.registry.Allocate(initCatalogSession, msg.ID, msg.Method)
	forwarded := msg.WithID(registry.BridgeIDJSON(bridgeID))
	frame, err := wire.Canonicalize(forwarded)
	if err != nil {
		b.registry.Cancel(bridgeID)
		return
	}
	if err := b.child.Write(frame); err != nil {
		b.registry.Cancel(bridgeID)
	}
}

func (b *Broker) forwardRaw(msg *wire.Message) {
	frame, err := wire.Canonicalize(msg)
	if err != nil {
		return
	}
	_ = b.child.Write(frame)
}

func (b *Broker) acquireSlot(ctx context.Context) bool {
	for {
		b.mu.Lock()
		if b.inFlight < b.maxFlight {
			b.inFlight++
			b.mu.Unlock()
			return true
		}
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (b *Broker) releaseSlot() {
	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
}

// SweepTimeouts resolves outstanding requests older than timeout with a
// synthesized -32000 error, delivered to their originating session.
func (b *Broker) SweepTimeouts(timeout time.Duration) {
	expired := b.registry.SweepExpired(timeout)
	if len(expired) > 0 {
		b.child.MarkDegraded()
	}
	for bridgeID, entry := range expired {
		metrics.RecordRequest("timeout")
		sess, ok := b.sessions.Get(entry.SessionID)
		if !ok {
			continue
		}
		errMsg := wire.NewError(entry.OriginalID, wire.CodeTimeout, "request timed out waiting for the child process", nil)
		b.deliver(sess, entry.SessionID, errMsg)
		logx.Log.Warn().Str("bridge_id", bridgeID).Str("method", entry.Method).Msg("broker: request timed out")
	}
}
