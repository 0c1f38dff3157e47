// Package wire defines the JSON-RPC 2.0 envelope that crosses the bridge and
// the canonicalization/classification rules applied to it.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the only JSON-RPC version the bridge accepts.
const Version = "2.0"

// ErrInvalidEnvelope is returned when a message fails basic envelope validation.
var ErrInvalidEnvelope = errors.New("invalid json-rpc envelope")

// ErrBatchNotSupported is returned when a client submits a JSON-RPC batch array.
var ErrBatchNotSupported = errors.New("batched requests are not supported")

// Kind classifies a Message per spec: request, notification, response, or
// server-initiated request (has both method and id, produced by the child).
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
	KindServerRequest
)

// Message is the single wire object that crosses the bridge in either
// direction. ID is kept as raw JSON so integers, strings, and null all
// round-trip byte-for-byte.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`

	// BridgeMeta is the reserved peer-bridge-loop-prevention namespace
	// (§9). It lives at the envelope's top level, outside params/result, so
	// that attaching or reading it never touches the method payload a
	// downstream MCP client or server actually parses. Core must never
	// strip it when forwarding a message on.
	BridgeMeta *BridgeMeta `json:"bridge_meta,omitempty"`
}

// BridgeMeta is the shape attached by the add_bridge_meta filter (§4.6) and
// read back by peer bridges to detect forwarding loops (§9).
type BridgeMeta struct {
	TraceID   string   `json:"trace_id"`
	TS        float64  `json:"ts"`
	Direction string   `json:"direction"`
	Session   string   `json:"session,omitempty"`
	Hops      int      `json:"hops"`
	Route     []string `json:"route"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error codes synthesized by the bridge itself (spec.md §7).
const (
	CodeParseError            = -32700
	CodeInvalidRequest        = -32600
	CodeMethodNotFound        = -32601
	CodeTimeout               = -32000
	CodeBlockedByPolicy       = -32001
	CodeUpstreamUnavailable   = -32002
	CodeUpstreamRestarted     = -32003
)

// Parse decodes a single JSON-RPC message from raw bytes. A leading '['
// indicates a batch, which the bridge rejects per spec.md §6.7.
func Parse(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, ErrBatchNotSupported
	}
	var m Message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &m, nil
}

// Validate checks the envelope shape independent of classification.
func (m *Message) Validate() error {
	if m.JSONRPC != Version {
		return fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidEnvelope, Version)
	}
	if m.Method == "" && len(m.ID) == 0 {
		return fmt.Errorf("%w: message has neither method nor id", ErrInvalidEnvelope)
	}
	return nil
}

// Classify determines whether a message is a request, notification, or
// response per spec.md §3. It never returns KindServerRequest: a message
// with both method and id is KindRequest, and IsServerRequest tells a
// child-initiated request apart.
func (m *Message) Classify() Kind {
	hasID := len(m.ID) > 0 && string(m.ID) != "null"
	hasMethod := m.Method != ""
	switch {
	case hasMethod && hasID:
		return KindRequest
	case hasMethod && !hasID:
		return KindNotification
	case !hasMethod && hasID:
		return KindResponse
	default:
		return KindInvalid
	}
}

// IsServerRequest reports whether an inbound (child→bridge) message with
// both method and id should be treated as a rare server-initiated request
// rather than a request awaiting a bridge-issued id (§4.5.2.4).
func (m *Message) IsServerRequest(knownBridgeID func(id json.RawMessage) bool) bool {
	if m.Method == "" || len(m.ID) == 0 {
		return false
	}
	return !knownBridgeID(m.ID)
}

// Canonicalize serializes the message deterministically with no embedded
// literal newlines, matching what encoding/json already guarantees for
// standard JSON, then appends a single LF terminator (§4.1).
func Canonicalize(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if bytes.ContainsRune(b, '\n') {
		return nil, fmt.Errorf("canonicalize: serialized message contains an embedded newline")
	}
	out := make([]byte, 0, len(b)+1)
	out = append(out, b...)
	out = append(out, '\n')
	return out, nil
}

// NewError builds a Message carrying a synthesized JSON-RPC error response
// addressed to the given original id.
func NewError(id json.RawMessage, code int, message string, data json.RawMessage) *Message {
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// NewResult builds a Message carrying a successful result addressed to id.
func NewResult(id json.RawMessage, result json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: id, Result: result}
}

// WithID returns a shallow copy of m with ID replaced; used when rewriting
// bridge-assigned ids back to a client's original id and vice versa.
func (m *Message) WithID(id json.RawMessage) *Message {
	cp := *m
	cp.ID = id
	return &cp
}
