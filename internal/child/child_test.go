package child

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestSupervisorRoundTrip spawns "cat" as a stand-in MCP server: it echoes
// whatever newline-delimited JSON it receives on stdin back on stdout.
func TestSupervisorRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var got []byte
	done := make(chan struct{}, 1)

	s := New("cat", nil, nil, time.Second, 3, func(frame []byte) {
		mu.Lock()
		got = append([]byte{}, frame...)
		mu.Unlock()
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for s.Health() != Ready {
		select {
		case <-deadline:
			t.Fatal("child never became ready")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := s.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame echoed back")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != `{"jsonrpc":"2.0","id":1,"method":"ping"}` {
		t.Fatalf("unexpected echo: %s", got)
	}
}

func TestHealthStringValues(t *testing.T) {
	cases := map[Health]string{
		Starting: "starting",
		Ready:    "ready",
		Degraded: "degraded",
		Dead:     "dead",
		Terminal: "terminal",
	}
	for h, want := range cases {
		if h.String() != want {
			t.Errorf("Health(%d).String() = %q, want %q", h, h.String(), want)
		}
	}
}
