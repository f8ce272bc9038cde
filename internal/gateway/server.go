// Package gateway exposes a local status surface for the running agent:
// a JSON snapshot endpoint, a health check, and a websocket status stream.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/orchestrator"
)

// SnapshotFunc produces the current runtime status.
type SnapshotFunc func() orchestrator.StatusSnapshot

// Config holds gateway server configuration.
type Config struct {
	// Host is the network interface to bind to. The gateway is meant for
	// localhost use and carries no auth.
	Host string `yaml:"host"`
	// Port is the TCP port number to listen on.
	Port int `yaml:"port"`
}

// broadcastInterval is how often the websocket stream re-checks the snapshot.
const broadcastInterval = time.Second

// Server is the local status server. Safe for concurrent use.
type Server struct {
	config   *Config
	snapshot SnapshotFunc
	sessions *SessionManager
	upgrader websocket.Upgrader
	server   *http.Server
	logger   *slog.Logger
	mu       sync.Mutex
	running  bool
}

// NewServer creates a gateway server. It is not started until Start is called.
func NewServer(config *Config, snapshot SnapshotFunc) *Server {
	return &Server{
		config:   config,
		snapshot: snapshot,
		sessions: NewSessionManager(),
		logger:   logging.WithComponent("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.broadcastLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.sessions.CloseAll()
	}()

	s.logger.Info("Gateway listening", slog.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Warn("Failed to encode status", slog.Any("error", err))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	session := s.sessions.Create(conn)
	s.logger.Debug("Status stream client connected", slog.String("session_id", session.ID))

	// Push the current snapshot immediately so clients render without
	// waiting for the next change.
	if data, err := json.Marshal(s.snapshot()); err == nil {
		_ = session.Send(data)
	}

	// Drain (and discard) client frames to notice disconnects.
	go func() {
		defer s.sessions.Remove(session.ID)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcastLoop pushes a fresh snapshot to all websocket clients whenever it
// changes, checking once per interval.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.sessions.Count() == 0 {
				continue
			}
			snap := s.snapshot()
			snap.GeneratedAt = time.Time{} // ignore the timestamp when diffing
			key, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			if string(key) == string(last) {
				continue
			}
			last = key

			data, err := json.Marshal(s.snapshot())
			if err != nil {
				continue
			}
			s.sessions.Broadcast(data)
		}
	}
}
