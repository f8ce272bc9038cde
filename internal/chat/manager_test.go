package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tetherlabs/tether/internal/chatapi"
	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/resilience"
	"github.com/tetherlabs/tether/internal/store"
)

func testChatConfig() *config.ChatConfig {
	return &config.ChatConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		MessageInterval:   20 * time.Millisecond,
		MessageLimit:      20,
	}
}

func testGovernor() *resilience.Governor {
	return resilience.NewGovernor(&resilience.RetryConfig{
		BaseDelay:    time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
		MaxRetries:   2,
	})
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestProcessorAtMostOnce(t *testing.T) {
	st := newTestStore(t)
	creds := &store.ChatCredentials{APIKey: "k", AgentID: "a", Enabled: true}

	var handled atomic.Int64
	p := NewProcessor(st, creds, func(ctx context.Context, peerID string, msg *chatapi.Message) {
		handled.Add(1)
	})

	msg := &chatapi.Message{ID: "msg-1", From: "peer-1", Content: "hello"}
	if !p.Process(context.Background(), "peer-1", msg) {
		t.Error("first Process() = false, want true")
	}
	if p.Process(context.Background(), "peer-1", msg) {
		t.Error("second Process() = true, want false")
	}

	waitFor(t, time.Second, func() bool { return handled.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := handled.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestProcessorConcurrentDuplicateEmitsOnce(t *testing.T) {
	st := newTestStore(t)
	creds := &store.ChatCredentials{APIKey: "k", AgentID: "a", Enabled: true}

	var handled atomic.Int64
	p := NewProcessor(st, creds, func(ctx context.Context, peerID string, msg *chatapi.Message) {
		handled.Add(1)
	})

	msg := &chatapi.Message{ID: "msg-1", From: "peer-1", Content: "hello"}
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Process(context.Background(), "peer-1", msg) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := accepted.Load(); got != 1 {
		t.Errorf("Process() accepted %d times, want 1", got)
	}
	waitFor(t, time.Second, func() bool { return handled.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := handled.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1", got)
	}
}

func TestProcessorCommitsLedgerBeforeHandlerFinishes(t *testing.T) {
	st := newTestStore(t)
	creds := &store.ChatCredentials{APIKey: "k", AgentID: "a", Enabled: true}

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	p := NewProcessor(st, creds, func(ctx context.Context, peerID string, msg *chatapi.Message) {
		defer wg.Done()
		<-block
	})

	p.Process(context.Background(), "peer-1", &chatapi.Message{ID: "msg-1"})

	// Handler is still blocked, but the ledger is already persisted.
	saved, err := st.LoadChatCredentials()
	if err != nil {
		t.Fatalf("LoadChatCredentials() error: %v", err)
	}
	if saved == nil || !saved.HasProcessed("msg-1") {
		t.Error("ledger not persisted before handler completion")
	}

	close(block)
	wg.Wait()
}

func TestStartIsNoOpWhenDisabled(t *testing.T) {
	st := newTestStore(t)
	creds := &store.ChatCredentials{APIKey: "k", AgentID: "a", Enabled: false}
	if err := st.SaveChatCredentials(creds); err != nil {
		t.Fatalf("failed to save credentials: %v", err)
	}

	m := NewManager(chatapi.NewClient("http://unused.invalid", ""), st, testGovernor(), testChatConfig(), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if m.Running() {
		t.Error("manager running despite Enabled=false")
	}
}

func TestStartIsNoOpWhenUnregistered(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(chatapi.NewClient("http://unused.invalid", ""), st, testGovernor(), testChatConfig(), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if m.Running() {
		t.Error("manager running despite missing credentials")
	}
}

func TestStartTwiceReturnsErrAlreadyRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/messages" {
			_ = json.NewEncoder(w).Encode(chatapi.ConversationsResponse{})
			return
		}
		_ = json.NewEncoder(w).Encode(chatapi.HeartbeatResponse{})
	}))
	defer server.Close()

	st := newTestStore(t)
	if err := st.SaveChatCredentials(&store.ChatCredentials{APIKey: "k", AgentID: "a", Enabled: true}); err != nil {
		t.Fatalf("failed to save credentials: %v", err)
	}

	m := NewManager(chatapi.NewClient(server.URL, ""), st, testGovernor(), testChatConfig(), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	if err := m.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStopSendsFinalOfflineHeartbeat(t *testing.T) {
	var statuses []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/heartbeat":
			var req chatapi.HeartbeatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			mu.Lock()
			statuses = append(statuses, req.Status)
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(chatapi.HeartbeatResponse{})
		case "/api/messages":
			_ = json.NewEncoder(w).Encode(chatapi.ConversationsResponse{})
		}
	}))
	defer server.Close()

	st := newTestStore(t)
	if err := st.SaveChatCredentials(&store.ChatCredentials{APIKey: "k", AgentID: "a", Enabled: true}); err != nil {
		t.Fatalf("failed to save credentials: %v", err)
	}

	m := NewManager(chatapi.NewClient(server.URL, ""), st, testGovernor(), testChatConfig(), nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 1
	})

	m.Stop()
	m.Stop() // no-op

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) == 0 {
		t.Fatal("no heartbeats recorded")
	}
	if last := statuses[len(statuses)-1]; last != "offline" {
		t.Errorf("last heartbeat status = %q, want offline", last)
	}
}

func TestMessagePollDrainsUnreadConversations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/heartbeat":
			_ = json.NewEncoder(w).Encode(chatapi.HeartbeatResponse{})
		case "/api/messages":
			_ = json.NewEncoder(w).Encode(chatapi.ConversationsResponse{
				Conversations: []chatapi.Conversation{
					{Peer: chatapi.Peer{ID: "peer-1"}, UnreadCount: 2},
					{Peer: chatapi.Peer{ID: "peer-quiet"}, UnreadCount: 0},
				},
			})
		case "/api/messages/peer-1":
			_ = json.NewEncoder(w).Encode(chatapi.MessagesResponse{
				Messages: []chatapi.Message{
					{ID: "msg-old", From: "peer-1", Content: "first", CreatedAt: time.Now().Add(-time.Minute)},
					{ID: "msg-new", From: "peer-1", Content: "second", CreatedAt: time.Now()},
				},
			})
		case "/api/messages/peer-quiet":
			t.Error("fetched messages for a conversation with no unread")
		}
	}))
	defer server.Close()

	st := newTestStore(t)
	if err := st.SaveChatCredentials(&store.ChatCredentials{APIKey: "k", AgentID: "a", Enabled: true}); err != nil {
		t.Fatalf("failed to save credentials: %v", err)
	}

	var mu sync.Mutex
	var order []string
	m := NewManager(chatapi.NewClient(server.URL, ""), st, testGovernor(), testChatConfig(), func(ctx context.Context, peerID string, msg *chatapi.Message) {
		mu.Lock()
		order = append(order, msg.ID)
		mu.Unlock()
	})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	// Newest first within the batch, and each message exactly once despite
	// the server re-delivering on every poll.
	if order[0] != "msg-new" || order[1] != "msg-old" {
		t.Errorf("delivery order = %v, want [msg-new msg-old]", order[:2])
	}
	if len(order) > 2 {
		t.Errorf("messages re-delivered: %v", order)
	}
}

func TestMessageFetchFailureFeedsGovernor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/messages" {
			_ = json.NewEncoder(w).Encode(chatapi.ConversationsResponse{
				Conversations: []chatapi.Conversation{
					{Peer: chatapi.Peer{ID: "peer-1"}, UnreadCount: 1},
				},
			})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	governor := testGovernor()
	m := NewManager(chatapi.NewClient(server.URL, ""), newTestStore(t), governor, testChatConfig(), nil)
	m.messageTick(context.Background())

	if got := governor.Snapshot().TotalErrors; got == 0 {
		t.Error("per-conversation fetch failure not recorded in governor stats")
	}
}

func TestSetEnabledRequiresRegistration(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(chatapi.NewClient("http://unused.invalid", ""), st, testGovernor(), testChatConfig(), nil)
	if err := m.SetEnabled(true); err != ErrNotRegistered {
		t.Errorf("SetEnabled() error = %v, want ErrNotRegistered", err)
	}
}

func TestRegisterPersistsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatapi.RegisterResponse{APIKey: "key-9", AgentID: "agent-9"})
	}))
	defer server.Close()

	st := newTestStore(t)
	m := NewManager(chatapi.NewClient(server.URL, ""), st, testGovernor(), testChatConfig(), nil)

	creds, err := m.Register(context.Background(), RegisterOptions{Name: "tether", Role: store.ChatRoleBoth})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if creds.APIKey != "key-9" || creds.AgentID != "agent-9" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
	if !creds.Enabled {
		t.Error("registration did not enable the channel")
	}

	saved, err := st.LoadChatCredentials()
	if err != nil || saved == nil {
		t.Fatalf("credentials not persisted: %v", err)
	}
	if saved.AgentID != "agent-9" {
		t.Errorf("persisted AgentID = %q, want agent-9", saved.AgentID)
	}
}
