package registry

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAllocateAndResolve(t *testing.T) {
	r := New()
	bridgeID := r.Allocate("sess-1", json.RawMessage(`42`), "tools/call")

	entry, ok := r.Resolve(bridgeID)
	if !ok {
		t.Fatal("expected entry to resolve")
	}
	if entry.SessionID != "sess-1" {
		t.Fatalf("session id = %q", entry.SessionID)
	}
	if string(entry.OriginalID) != "42" {
		t.Fatalf("original id = %q", entry.OriginalID)
	}

	if _, ok := r.Resolve(bridgeID); ok {
		t.Fatal("expected second resolve to fail (delete-on-read)")
	}
}

func TestKnownDistinguishesBridgeIDs(t *testing.T) {
	r := New()
	bridgeID := r.Allocate("sess-1", json.RawMessage(`1`), "ping")
	if !r.Known(BridgeIDJSON(bridgeID)) {
		t.Fatal("expected bridge id to be known")
	}
	if r.Known(json.RawMessage(`"not-a-bridge-id"`)) {
		t.Fatal("unexpected id reported known")
	}
	if r.Known(json.RawMessage(`1`)) {
		t.Fatal("numeric id should never be known (bridge ids are strings)")
	}
}

func TestSweepExpired(t *testing.T) {
	r := New()
	bridgeID := r.Allocate("sess-1", json.RawMessage(`1`), "slow")
	time.Sleep(5 * time.Millisecond)
	expired := r.SweepExpired(1 * time.Millisecond)
	if _, ok := expired[bridgeID]; !ok {
		t.Fatal("expected entry to be swept as expired")
	}
	if _, ok := r.Resolve(bridgeID); ok {
		t.Fatal("swept entry should no longer resolve")
	}
}

func TestCancelSession(t *testing.T) {
	r := New()
	a := r.Allocate("sess-1", json.RawMessage(`1`), "a")
	_ = r.Allocate("sess-2", json.RawMessage(`2`), "b")

	cancelled := r.CancelSession("sess-1")
	if len(cancelled) != 1 || cancelled[0] != a {
		t.Fatalf("unexpected cancelled set: %v", cancelled)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one remaining entry, got %d", r.Len())
	}
}
