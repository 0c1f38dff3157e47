package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

type fakeSink struct {
	received []*wire.Message
	fail     bool
}

func (f *fakeSink) Send(msg *wire.Message) error {
	if f.fail {
		return errors.New("sink unavailable")
	}
	f.received = append(f.received, msg)
	return nil
}

func TestEnqueueWithoutSinkThenFlushOnAttach(t *testing.T) {
	st := New(10, 2, time.Minute, time.Minute)
	s := st.Create()

	msg := &wire.Message{JSONRPC: wire.Version, ID: json.RawMessage(`1`)}
	if err := s.Enqueue(msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sink := &fakeSink{}
	s.AttachSink(sink)
	if len(sink.received) != 1 {
		t.Fatalf("expected backlog flushed on attach, got %d messages", len(sink.received))
	}
}

func TestDropOldestBeyondMaxQueueDepth(t *testing.T) {
	st := New(2, 5, time.Minute, time.Minute)
	s := st.Create()
	for i := 0; i < 5; i++ {
		if err := s.Enqueue(&wire.Message{JSONRPC: wire.Version, ID: json.RawMessage(`1`)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	s.mu.Lock()
	depth := len(s.queue)
	s.mu.Unlock()
	if depth != 2 {
		t.Fatalf("expected queue capped at 2, got %d", depth)
	}
}

func TestHardCapClosesSession(t *testing.T) {
	st := New(2, 2, time.Minute, time.Minute)
	s := st.Create()
	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = s.Enqueue(&wire.Message{JSONRPC: wire.Version, ID: json.RawMessage(`1`)})
		if lastErr != nil {
			break
		}
	}
	if !errors.Is(lastErr, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed once hard cap exceeded, got %v", lastErr)
	}
}

func TestStoreRemove(t *testing.T) {
	st := New(10, 2, time.Minute, time.Minute)
	s := st.Create()
	if st.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", st.Count())
	}
	st.Remove(s.ID, ReasonClientClose)
	if st.Count() != 0 {
		t.Fatalf("expected 0 sessions after remove, got %d", st.Count())
	}
	if err := s.Enqueue(&wire.Message{JSONRPC: wire.Version}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected enqueue on removed session to fail, got %v", err)
	}
}

func TestSweepIdleRemovesDetachedPastGrace(t *testing.T) {
	st := New(10, 2, time.Hour, 1*time.Millisecond)
	s := st.Create()
	sink := &fakeSink{}
	s.AttachSink(sink)
	s.DetachSink()
	time.Sleep(5 * time.Millisecond)
	st.SweepIdle()
	if st.Count() != 0 {
		t.Fatalf("expected session swept after detach grace, got count %d", st.Count())
	}
}
