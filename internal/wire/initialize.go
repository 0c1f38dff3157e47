package wire

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// BridgeImplementation identifies the bridge itself in a locally-answered
// initialize response (§4.5.1.2, open question 2).
var BridgeImplementation = mcp.Implementation{
	Name:    "mcp-bridge",
	Version: "0.1.0",
}

// InitializeParams is the shape of an initialize request's params, reusing
// mcp-go's capability types instead of hand-rolled structs.
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ClientInfo      mcp.Implementation     `json:"clientInfo"`
	Capabilities    mcp.ClientCapabilities `json:"capabilities"`
}

// InitializeResult is the shape of a locally-answered initialize response.
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ServerInfo      mcp.Implementation     `json:"serverInfo"`
	Capabilities    mcp.ServerCapabilities `json:"capabilities"`
}

// LocalInitializeResult builds the bridge's own answer to an initialize
// request, advertising the capabilities the bridge itself guarantees
// regardless of what the child later reports (discovery short-circuiting,
// per §4.5.1.2).
func LocalInitializeResult(protocolVersion string) *InitializeResult {
	return &InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      BridgeImplementation,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged,omitempty"`
			}{ListChanged: false},
			Resources: &struct {
				Subscribe   bool `json:"subscribe,omitempty"`
				ListChanged bool `json:"listChanged,omitempty"`
			}{Subscribe: false, ListChanged: false},
			Prompts: &struct {
				ListChanged bool `json:"listChanged,omitempty"`
			}{ListChanged: false},
		},
	}
}

// MarshalResult encodes an InitializeResult as the raw json.RawMessage
// carried in a Message's Result field.
func (r *InitializeResult) MarshalResult() (json.RawMessage, error) {
	return json.Marshal(r)
}
