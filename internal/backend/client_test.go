package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tetherlabs/tether/internal/resilience"
)

func TestRequestQRToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/qr-token" {
			t.Errorf("path = %q, want /qr-token", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}

		var req QRTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.DeviceName != "workstation" {
			t.Errorf("device_name = %q, want workstation", req.DeviceName)
		}

		_ = json.NewEncoder(w).Encode(QRTokenResponse{
			Token:     "tok-1",
			QRData:    "tether://pair/tok-1",
			ExpiresIn: 300,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.RequestQRToken(context.Background(), &QRTokenRequest{
		DeviceName: "workstation",
		DeviceType: "desktop",
		DeviceID:   "dev-1",
	})
	if err != nil {
		t.Fatalf("RequestQRToken() error: %v", err)
	}
	if resp.Token != "tok-1" {
		t.Errorf("Token = %q, want tok-1", resp.Token)
	}
	if resp.ExpiresIn != 300 {
		t.Errorf("ExpiresIn = %d, want 300", resp.ExpiresIn)
	}
}

func TestCheckLoginStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "tok-1" {
			t.Errorf("token query = %q, want tok-1", got)
		}
		_ = json.NewEncoder(w).Encode(LoginStatusResponse{
			Registered:  true,
			ConnectorID: "conn-9",
			UserID:      "user-3",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.CheckLoginStatus(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("CheckLoginStatus() error: %v", err)
	}
	if !resp.Registered {
		t.Error("Registered = false, want true")
	}
	if resp.ConnectorID != "conn-9" {
		t.Errorf("ConnectorID = %q, want conn-9", resp.ConnectorID)
	}
}

func TestSendHeartbeatCarriesBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
			t.Errorf("Authorization = %q, want Bearer tok-abc", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.SendHeartbeat(context.Background(), "tok-abc", &HeartbeatRequest{
		ConnectorID: "conn-1",
		Status:      "online",
	})
	if err != nil {
		t.Fatalf("SendHeartbeat() error: %v", err)
	}
}

func TestPollCommands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("connector_id"); got != "conn-1" {
			t.Errorf("connector_id = %q, want conn-1", got)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("limit = %q, want 10", got)
		}
		_ = json.NewEncoder(w).Encode([]Command{
			{CommandID: "cmd-1", CommandType: "prompt", CommandPayload: json.RawMessage(`{"text":"hi"}`)},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	commands, err := client.PollCommands(context.Background(), "tok", "conn-1", 10)
	if err != nil {
		t.Fatalf("PollCommands() error: %v", err)
	}
	if len(commands) != 1 || commands[0].CommandID != "cmd-1" {
		t.Errorf("unexpected commands: %+v", commands)
	}
}

func TestNon2xxBecomesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.SendHeartbeat(context.Background(), "stale", &HeartbeatRequest{ConnectorID: "c"})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}

	var statusErr *resilience.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error is %T, want *resilience.StatusError", err)
	}
	if statusErr.Code != http.StatusUnauthorized {
		t.Errorf("Code = %d, want 401", statusErr.Code)
	}
}

func TestDisconnect(t *testing.T) {
	var received DisconnectRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Disconnect(context.Background(), "tok", &DisconnectRequest{ConnectorID: "conn-1", Delete: true})
	if err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if !received.Delete {
		t.Error("Delete flag not transmitted")
	}
}
