package wire

import (
	"encoding/json"
	"testing"
)

func TestClassifyRequest(t *testing.T) {
	m := &Message{JSONRPC: Version, ID: json.RawMessage(`1`), Method: "tools/list"}
	if m.Classify() != KindRequest {
		t.Fatalf("expected KindRequest, got %v", m.Classify())
	}
}

func TestClassifyNotification(t *testing.T) {
	m := &Message{JSONRPC: Version, Method: "notifications/progress"}
	if m.Classify() != KindNotification {
		t.Fatalf("expected KindNotification, got %v", m.Classify())
	}
}

func TestClassifyResponse(t *testing.T) {
	m := &Message{JSONRPC: Version, ID: json.RawMessage(`"abc"`), Result: json.RawMessage(`{}`)}
	if m.Classify() != KindResponse {
		t.Fatalf("expected KindResponse, got %v", m.Classify())
	}
}

func TestClassifyInvalid(t *testing.T) {
	m := &Message{JSONRPC: Version}
	if m.Classify() != KindInvalid {
		t.Fatalf("expected KindInvalid, got %v", m.Classify())
	}
}

func TestParseRejectsBatch(t *testing.T) {
	_, err := Parse([]byte(`[{"jsonrpc":"2.0","id":1,"method":"a"}]`))
	if err == nil {
		t.Fatal("expected error for batch input")
	}
}

func TestCanonicalizeAppendsSingleNewline(t *testing.T) {
	m := &Message{JSONRPC: Version, ID: json.RawMessage(`1`), Result: json.RawMessage(`{"ok":true}`)}
	b, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if b[len(b)-1] != '\n' {
		t.Fatalf("expected trailing newline")
	}
	if len(b) < 2 || b[len(b)-2] == '\n' {
		t.Fatalf("expected exactly one trailing newline")
	}
}

func TestWithIDPreservesRest(t *testing.T) {
	m := &Message{JSONRPC: Version, ID: json.RawMessage(`1`), Method: "tools/call"}
	rewritten := m.WithID(json.RawMessage(`"bridge-42"`))
	if string(rewritten.ID) != `"bridge-42"` {
		t.Fatalf("id not rewritten: %s", rewritten.ID)
	}
	if rewritten.Method != m.Method {
		t.Fatalf("method lost on rewrite")
	}
	if string(m.ID) != `1` {
		t.Fatalf("original message mutated")
	}
}
