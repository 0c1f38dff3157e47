package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gaspardpetit/mcpbridge/internal/broker"
	"github.com/gaspardpetit/mcpbridge/internal/catalog"
	"github.com/gaspardpetit/mcpbridge/internal/child"
	"github.com/gaspardpetit/mcpbridge/internal/config"
	"github.com/gaspardpetit/mcpbridge/internal/filter"
	"github.com/gaspardpetit/mcpbridge/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	sessions := session.New(10, 2, time.Minute, time.Minute)
	chain := filter.New()
	filter.RegisterBuiltins(chain, "node-test")
	c := child.New("cat", nil, nil, time.Second, 3, nil)
	b := broker.New(c, sessions, chain, catalog.Empty(), 8, broker.Options{
		BroadcastServerRequests: true,
		LocalInitialize:         true,
		ProtocolVersion:         "2024-11-05",
		RequestTimeout:          time.Second,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start child: %v", err)
	}
	t.Cleanup(c.Stop)

	deadline := time.After(2 * time.Second)
	for c.Health() != child.Ready {
		select {
		case <-deadline:
			t.Fatal("child never became ready")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cfg := &config.BridgeConfig{RequestTimeout: time.Second, AuthMode: config.AuthModeNone}
	handler := New(b, sessions, cfg, nil)
	return httptest.NewServer(handler)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["child_state"] != "ready" {
		t.Fatalf("expected child_state ready, got %v", body["child_state"])
	}
	cf, ok := body["content_filtering"].(map[string]any)
	if !ok {
		t.Fatalf("expected content_filtering object, got %v", body["content_filtering"])
	}
	if cf["enabled"] != false {
		t.Fatalf("expected content_filtering disabled when no middleware configured, got %v", cf["enabled"])
	}
}

func TestCreateAndDeleteSession(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("post /sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+created.SessionID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delResp.StatusCode)
	}
}

func TestMessagesRequiresSessionParam(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/messages", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing session, got %d", resp.StatusCode)
	}
}

func TestMessagesAcceptedAndDeliveredOverSSE(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	sseReq, err := http.NewRequest(http.MethodGet, srv.URL+"/sse", nil)
	if err != nil {
		t.Fatalf("new sse request: %v", err)
	}
	sseResp, err := http.DefaultClient.Do(sseReq)
	if err != nil {
		t.Fatalf("get /sse: %v", err)
	}
	defer sseResp.Body.Close()

	scanner := bufio.NewScanner(sseResp.Body)
	nextEvent := func() (event, data string) {
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
				return event, data
			}
		}
		return "", ""
	}

	event, data := nextEvent()
	if event != "endpoint" {
		t.Fatalf("expected endpoint event first, got %q", event)
	}
	if !strings.HasPrefix(data, "http://") && !strings.HasPrefix(data, "https://") {
		t.Fatalf("expected endpoint data to be an absolute URL, got %q", data)
	}
	if strings.Contains(data, "{") {
		t.Fatalf("expected endpoint data to be a bare URL string, not JSON: %q", data)
	}

	event, data = nextEvent()
	if event != "connected" {
		t.Fatalf("expected connected event second, got %q", event)
	}
	var connected struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(data), &connected); err != nil {
		t.Fatalf("decode connected event: %v", err)
	}

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	msgResp, err := http.Post(srv.URL+"/messages?session="+connected.SessionID, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post /messages: %v", err)
	}
	defer msgResp.Body.Close()
	if msgResp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(msgResp.Body)
		t.Fatalf("expected 202, got %d: %s", msgResp.StatusCode, respBody)
	}
	var accepted map[string]string
	if err := json.NewDecoder(msgResp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode accepted body: %v", err)
	}
	if accepted["status"] != "accepted" {
		t.Fatalf("expected status accepted, got %v", accepted)
	}

	event, data = nextEvent()
	if event != "message" {
		t.Fatalf("expected the initialize reply framed as a message event, got %q", event)
	}
	var reply map[string]any
	if err := json.Unmarshal([]byte(data), &reply); err != nil {
		t.Fatalf("decode delivered message: %v", err)
	}
	if reply["result"] == nil {
		t.Fatalf("expected initialize result in delivered message, got %v", reply)
	}
}

func TestListFiltersIncludesBuiltins(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/filters")
	if err != nil {
		t.Fatalf("get /filters: %v", err)
	}
	defer resp.Body.Close()
	var infos []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, i := range infos {
		if i["name"] == "redact_secrets" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected redact_secrets in filter list")
	}
}

func TestOAuthMetadataEndpoint(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/.well-known/oauth-authorization-server")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
