package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherlabs/tether/internal/connector"
	"github.com/tetherlabs/tether/internal/orchestrator"
)

func testSnapshot() orchestrator.StatusSnapshot {
	return orchestrator.StatusSnapshot{
		GeneratedAt: time.Now(),
		State:       connector.StateConnected,
		ConnectorID: "conn-1",
		Online:      true,
	}
}

func TestHandleStatus(t *testing.T) {
	s := NewServer(&Config{Host: "127.0.0.1", Port: 0}, testSnapshot)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap orchestrator.StatusSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.State != connector.StateConnected {
		t.Errorf("State = %q, want connected", snap.State)
	}
	if snap.ConnectorID != "conn-1" {
		t.Errorf("ConnectorID = %q, want conn-1", snap.ConnectorID)
	}
}

func TestHandleStatusRejectsPost(t *testing.T) {
	s := NewServer(&Config{}, testSnapshot)

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleHealthz(t *testing.T) {
	s := NewServer(&Config{}, testSnapshot)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestWebSocketPushesInitialSnapshot(t *testing.T) {
	s := NewServer(&Config{}, testSnapshot)

	server := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var snap orchestrator.StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("failed to decode pushed snapshot: %v", err)
	}
	if snap.ConnectorID != "conn-1" {
		t.Errorf("ConnectorID = %q, want conn-1", snap.ConnectorID)
	}

	if s.sessions.Count() != 1 {
		t.Errorf("session count = %d, want 1", s.sessions.Count())
	}
}

func TestSessionManagerBroadcastDropsDeadSessions(t *testing.T) {
	s := NewServer(&Config{}, testSnapshot)

	server := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	_ = conn.Close()

	// Give the reader goroutine time to notice the close.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.sessions.Count() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := s.sessions.Count(); got != 0 {
		t.Errorf("session count = %d, want 0 after client close", got)
	}
}
