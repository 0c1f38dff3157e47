package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gaspardpetit/mcpbridge/internal/catalog"
	"github.com/gaspardpetit/mcpbridge/internal/child"
	"github.com/gaspardpetit/mcpbridge/internal/filter"
	"github.com/gaspardpetit/mcpbridge/internal/session"
	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

type fakeSink struct {
	received []*wire.Message
}

func (f *fakeSink) Send(msg *wire.Message) error {
	f.received = append(f.received, msg)
	return nil
}

func newTestBroker(t *testing.T) (*Broker, *session.Store) {
	t.Helper()
	sessions := session.New(10, 2, time.Minute, time.Minute)
	chain := filter.New()
	filter.RegisterBuiltins(chain, "node-test")
	c := child.New("cat", nil, nil, time.Second, 3, nil)
	b := New(c, sessions, chain, catalog.Empty(), 8, Options{
		BroadcastServerRequests: true,
		LocalInitialize:         true,
		ProtocolVersion:         "2024-11-05",
		RequestTimeout:          time.Second,
	})
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return b, sessions
}

func waitReady(t *testing.T, c *child.Supervisor) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for c.Health() != child.Ready {
		select {
		case <-deadline:
			t.Fatal("child never became ready")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleClientMessageInitializeAnsweredLocally(t *testing.T) {
	b, sessions := newTestBroker(t)
	waitReady(t, b.child)
	sess := sessions.Create()

	msg := &wire.Message{JSONRPC: wire.Version, ID: json.RawMessage(`1`), Method: "initialize", Params: json.RawMessage(`{}`)}
	resp := b.HandleClientMessage(context.Background(), sess.ID, msg)
	if resp == nil {
		t.Fatal("expected a local response for initialize")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("id not preserved: %s", resp.ID)
	}
}

func TestHandleClientMessageNotificationForwardedNoReply(t *testing.T) {
	b, sessions := newTestBroker(t)
	waitReady(t, b.child)
	sess := sessions.Create()

	msg := &wire.Message{JSONRPC: wire.Version, Method: "notifications/initialized"}
	resp := b.HandleClientMessage(context.Background(), sess.ID, msg)
	if resp != nil {
		t.Fatalf("expected nil response for a notification, got %+v", resp)
	}
}

func TestForwardAndWaitRoundTripsThroughEchoChild(t *testing.T) {
	b, sessions := newTestBroker(t)
	waitReady(t, b.child)
	sess := sessions.Create()
	sink := &fakeSink{}
	sess.AttachSink(sink)

	msg := &wire.Message{JSONRPC: wire.Version, ID: json.RawMessage(`7`), Method: "ping"}
	resp := b.HandleClientMessage(context.Background(), sess.ID, msg)
	if resp != nil {
		t.Fatalf("expected async delivery, got synchronous response %+v", resp)
	}

	deadline := time.After(2 * time.Second)
	for len(sink.received) == 0 {
		select {
		case <-deadline:
			t.Fatal("no response delivered to session sink")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if string(sink.received[0].ID) != "7" {
		t.Fatalf("expected original client id restored, got %s", sink.received[0].ID)
	}
}

func TestCloseSessionCancelsOutstandingRequests(t *testing.T) {
	b, sessions := newTestBroker(t)
	sess := sessions.Create()

	b.Registry().Allocate(sess.ID, json.RawMessage(`3`), "slow/call")
	if b.Registry().Len() != 1 {
		t.Fatalf("expected one pending request, got %d", b.Registry().Len())
	}

	b.CloseSession(sess.ID, session.ReasonClientClose)

	if b.Registry().Len() != 0 {
		t.Fatalf("expected CloseSession to cancel pending requests, still have %d", b.Registry().Len())
	}
	if _, ok := sessions.Get(sess.ID); ok {
		t.Fatal("expected session to be removed")
	}
}

func TestSweepTimeoutsDeliversTimeoutError(t *testing.T) {
	b, sessions := newTestBroker(t)
	sess := sessions.Create()
	sink := &fakeSink{}
	sess.AttachSink(sink)

	bridgeID := b.Registry().Allocate(sess.ID, json.RawMessage(`9`), "slow/call")
	_ = bridgeID
	time.Sleep(5 * time.Millisecond)
	b.SweepTimeouts(1 * time.Millisecond)

	if len(sink.received) != 1 {
		t.Fatalf("expected one timeout delivery, got %d", len(sink.received))
	}
	if sink.received[0].Error == nil || sink.received[0].Error.Code != wire.CodeTimeout {
		t.Fatalf("expected timeout error, got %+v", sink.received[0])
	}
}
