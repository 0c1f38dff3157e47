package filter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

func TestRedactSecretsMasksAPIKey(t *testing.T) {
	c := New()
	RegisterBuiltins(c, "node-a")

	msg := &wire.Message{
		JSONRPC: wire.Version,
		Method:  "tools/call",
		Params:  json.RawMessage(`{"text":"api_key: sk-ABCDEFGHIJKLMNOPQRSTUVWX and more"}`),
	}
	res := c.Apply(Outbound, "sess-1", msg)
	if res.Action != Transform {
		t.Fatalf("expected Transform, got %v", res.Action)
	}
	if strings.Contains(string(res.Message.Params), "sk-ABCDEFGHIJKLMNOPQRSTUVWX") {
		t.Fatalf("secret not redacted: %s", res.Message.Params)
	}
	if !strings.Contains(string(res.Message.Params), redactedMarker) {
		t.Fatalf("expected redaction marker present: %s", res.Message.Params)
	}
}

func TestAddBridgeMetaDisabledByDefault(t *testing.T) {
	c := New()
	RegisterBuiltins(c, "node-a")

	msg := &wire.Message{JSONRPC: wire.Version, Method: "ping", Params: json.RawMessage(`{}`)}
	res := c.Apply(Outbound, "sess-1", msg)
	if res.Message.BridgeMeta != nil {
		t.Fatal("add_bridge_meta should be disabled by default")
	}

	if !c.SetEnabled("add_bridge_meta", true) {
		t.Fatal("expected add_bridge_meta to be a registered filter")
	}
	res = c.Apply(Outbound, "sess-1", msg)
	if res.Message.BridgeMeta == nil {
		t.Fatal("expected bridge_meta attached once enabled")
	}
	if res.Message.BridgeMeta.Hops != 1 || len(res.Message.BridgeMeta.Route) != 1 || res.Message.BridgeMeta.Route[0] != "node-a" {
		t.Fatalf("unexpected bridge_meta on first hop: %+v", res.Message.BridgeMeta)
	}
}

func TestAddBridgeMetaDetectsLoop(t *testing.T) {
	c := New()
	RegisterBuiltins(c, "node-a")
	if !c.SetEnabled("add_bridge_meta", true) {
		t.Fatal("expected add_bridge_meta to be a registered filter")
	}

	msg := &wire.Message{
		JSONRPC:    wire.Version,
		Method:     "ping",
		BridgeMeta: &wire.BridgeMeta{TraceID: "t1", Hops: 2, Route: []string{"node-b", "node-a"}},
	}
	res := c.Apply(Outbound, "sess-1", msg)
	if res.Action != Block {
		t.Fatalf("expected Block on route loop, got %v", res.Action)
	}
}

func TestDropShortCircuitsChain(t *testing.T) {
	c := New()
	calledSecond := false
	c.Register("dropper", "drops everything", Both, true, func(Direction, string, *wire.Message) Result {
		return Result{Action: Drop}
	})
	c.Register("observer", "should never run", Both, true, func(Direction, string, *wire.Message) Result {
		calledSecond = true
		return Result{Action: Pass}
	})

	msg := &wire.Message{JSONRPC: wire.Version, Method: "x"}
	res := c.Apply(Outbound, "sess-1", msg)
	if res.Action != Drop {
		t.Fatalf("expected Drop, got %v", res.Action)
	}
	if calledSecond {
		t.Fatal("filter after a Drop should not run")
	}
}

func TestDisabledFilterSkipped(t *testing.T) {
	c := New()
	called := false
	c.Register("noop", "", Both, false, func(Direction, string, *wire.Message) Result {
		called = true
		return Result{Action: Pass}
	})
	c.Apply(Outbound, "sess-1", &wire.Message{JSONRPC: wire.Version, Method: "x"})
	if called {
		t.Fatal("disabled filter should not run")
	}
}

func TestPanickingFilterPassesThrough(t *testing.T) {
	c := New()
	c.Register("panics", "", Both, true, func(Direction, string, *wire.Message) Result {
		panic("boom")
	})
	msg := &wire.Message{JSONRPC: wire.Version, Method: "x"}
	res := c.Apply(Outbound, "sess-1", msg)
	if res.Action != Pass {
		t.Fatalf("expected chain to continue as Pass after panic, got %v", res.Action)
	}
}
