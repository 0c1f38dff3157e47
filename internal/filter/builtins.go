package filter

import (
	"encoding/json"
	"regexp"

	"github.com/google/uuid"

	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

// secretPatterns mirrors the original proof-of-concept's SECRET_PATTERNS
// exactly: a generic api/secret/access/bearer key-or-token pattern and the
// common sk-... API key shape.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:api|secret|access|bearer)[-_ ]?(?:key|token)\s*[:=]\s*[A-Za-z0-9._-]{12,}`),
	regexp.MustCompile(`(?i)sk-[A-Za-z0-9]{20,}`),
}

const redactedMarker = "[REDACTED]"

func scrubSecrets(s string) string {
	out := s
	for _, pat := range secretPatterns {
		out = pat.ReplaceAllString(out, redactedMarker)
	}
	return out
}

// walkStrings recursively applies fn to every string leaf of a decoded JSON
// value (string/[]any/map[string]any), matching the original's
// _walk_strings helper.
func walkStrings(v any, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		return fn(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = walkStrings(e, fn)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = walkStrings(e, fn)
		}
		return out
	default:
		return v
	}
}

// transformRaw decodes a json.RawMessage field, applies fn via walkStrings,
// and re-encodes it. A nil or empty field is left untouched.
func transformRaw(raw json.RawMessage, fn func(string) string) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}
	scrubbed := walkStrings(decoded, fn)
	out, err := json.Marshal(scrubbed)
	if err != nil {
		return raw
	}
	return out
}

// RegisterBuiltins installs the two built-in filters the bridge always
// ships with: redact_secrets (enabled) and add_bridge_meta (disabled).
// nodeID identifies this bridge instance in bridge_meta.route (§9).
func RegisterBuiltins(c *Chain, nodeID string) {
	c.Register("redact_secrets", "Masks common API keys/tokens in all string fields", Both, true, redactSecretsFilter)
	c.Register("add_bridge_meta", "Attach bridge_meta with ts/direction/session/hops/route", Both, false, addBridgeMetaFilterFor(nodeID))
}

func redactSecretsFilter(direction Direction, sessionID string, msg *wire.Message) Result {
	cp := *msg
	cp.Params = transformRaw(msg.Params, scrubSecrets)
	cp.Result = transformRaw(msg.Result, scrubSecrets)
	if msg.Error != nil {
		errCp := *msg.Error
		errCp.Message = scrubSecrets(msg.Error.Message)
		errCp.Data = transformRaw(msg.Error.Data, scrubSecrets)
		cp.Error = &errCp
	}
	return Result{Action: Transform, Message: &cp}
}

// addBridgeMetaFilterFor returns an add_bridge_meta filter bound to this
// bridge's nodeID. bridge_meta lives at the envelope's top level (not nested
// in params/result), so a peer bridge downstream can read it without
// unwrapping the method payload. Each hop appends nodeID to route and bumps
// hops; if nodeID is already present in route the message has looped back to
// this bridge and is blocked rather than forwarded again (§9).
func addBridgeMetaFilterFor(nodeID string) Func {
	return func(direction Direction, sessionID string, msg *wire.Message) Result {
		prev := msg.BridgeMeta

		route := []string{nodeID}
		traceID := uuid.NewString()
		hops := 1
		if prev != nil {
			if prev.TraceID != "" {
				traceID = prev.TraceID
			}
			for _, hop := range prev.Route {
				if hop == nodeID {
					return Result{
						Action: Block,
						Err: &wire.RPCError{
							Code:    wire.CodeBlockedByPolicy,
							Message: "blocked by policy",
							Data:    mustMarshal(map[string]string{"reason": "bridge_loop_detected:" + nodeID}),
						},
					}
				}
			}
			route = append(append([]string{}, prev.Route...), nodeID)
			hops = prev.Hops + 1
		}

		cp := *msg
		cp.BridgeMeta = &wire.BridgeMeta{
			TraceID:   traceID,
			TS:        float64(now().UnixNano()) / 1e9,
			Direction: string(direction),
			Session:   sessionID,
			Hops:      hops,
			Route:     route,
		}
		return Result{Action: Transform, Message: &cp}
	}
}

func mustMarshal(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}
