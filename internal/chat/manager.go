// Package chat runs the agent-to-agent messaging channel: registration,
// the chat heartbeat, the message poll, and reply delivery.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/chatapi"
	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/resilience"
	"github.com/tetherlabs/tether/internal/store"
)

// ErrAlreadyRunning is returned when Start is called on a running manager.
var ErrAlreadyRunning = errors.New("chat manager already running")

// ErrNotRegistered is returned when the chat channel has no credentials.
var ErrNotRegistered = errors.New("chat not registered")

// Manager owns the chat channel lifecycle. The persisted Enabled flag is the
// sole run gate; Start on a disabled or unregistered channel is a no-op.
type Manager struct {
	client    *chatapi.Client
	store     *store.Store
	governor  *resilience.Governor
	cfg       *config.ChatConfig
	logger    *slog.Logger
	processor *Processor

	mu     sync.Mutex
	creds  *store.ChatCredentials
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a chat Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a chat manager. onMessage receives each deduplicated
// incoming message.
func NewManager(client *chatapi.Client, st *store.Store, governor *resilience.Governor, cfg *config.ChatConfig, onMessage MessageHandler, opts ...Option) *Manager {
	m := &Manager{
		client:   client,
		store:    st,
		governor: governor,
		cfg:      cfg,
		logger:   logging.WithComponent("chat"),
	}
	m.processor = NewProcessor(st, nil, onMessage)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterOptions describes the chat identity to create.
type RegisterOptions struct {
	Name        string
	Description string
	Role        store.ChatRole
	Tags        []string
	Skills      []string
}

// Register creates a chat identity and persists the issued credentials with
// the channel enabled.
func (m *Manager) Register(ctx context.Context, opts RegisterOptions) (*store.ChatCredentials, error) {
	resp, err := m.client.Register(ctx, &chatapi.RegisterRequest{
		Name:        opts.Name,
		Description: opts.Description,
		Role:        string(opts.Role),
		EntityType:  "agent",
		Tags:        opts.Tags,
		Skills:      opts.Skills,
	})
	if err != nil {
		return nil, err
	}

	creds := &store.ChatCredentials{
		APIKey:    resp.APIKey,
		AgentID:   resp.AgentID,
		AgentName: opts.Name,
		Role:      opts.Role,
		Enabled:   true,
	}
	if err := m.store.SaveChatCredentials(creds); err != nil {
		return nil, err
	}

	m.client.SetAPIKey(creds.APIKey)
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	m.setProcessorCredentials(creds)

	m.logger.Info("Chat identity registered",
		slog.String("agent_id", creds.AgentID),
		slog.String("agent_name", creds.AgentName),
	)
	return creds, nil
}

// SetEnabled flips the persisted run gate. It does not start or stop the
// pollers; the caller restarts the manager to apply the change.
func (m *Manager) SetEnabled(enabled bool) error {
	creds, err := m.store.LoadChatCredentials()
	if err != nil {
		return err
	}
	if creds == nil {
		return ErrNotRegistered
	}
	creds.Enabled = enabled
	if err := m.store.SaveChatCredentials(creds); err != nil {
		return err
	}

	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	m.setProcessorCredentials(creds)
	return nil
}

// setProcessorCredentials hands the processor its own copy of the document so
// the manager's heartbeat bookkeeping and the processor's ledger writes never
// touch the same struct.
func (m *Manager) setProcessorCredentials(creds *store.ChatCredentials) {
	cp := *creds
	cp.ProcessedMessageIDs = append([]string(nil), creds.ProcessedMessageIDs...)
	m.processor.SetCredentials(&cp)
}

// Credentials returns a copy of the loaded credentials, or nil.
func (m *Manager) Credentials() *store.ChatCredentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil
	}
	creds := *m.creds
	return &creds
}

// Running reports whether the chat pollers are live.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Start loads the credentials and, when the channel is enabled, launches the
// heartbeat and message poll loops. An unregistered or disabled channel is a
// logged no-op.
func (m *Manager) Start(ctx context.Context) error {
	creds, err := m.store.LoadChatCredentials()
	if err != nil {
		return err
	}
	if creds == nil {
		m.logger.Info("Chat not registered, channel idle")
		return nil
	}

	m.client.SetAPIKey(creds.APIKey)
	m.setProcessorCredentials(creds)

	m.mu.Lock()
	m.creds = creds
	if !creds.Enabled {
		m.mu.Unlock()
		m.logger.Info("Chat disabled, channel idle")
		return nil
	}
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(2)
	go m.heartbeatLoop(ctx)
	go m.messageLoop(ctx)

	m.logger.Info("Chat channel started",
		slog.String("agent_id", creds.AgentID),
		slog.Duration("heartbeat_interval", m.cfg.HeartbeatInterval),
		slog.Duration("message_interval", m.cfg.MessageInterval),
	)
	return nil
}

// Stop cancels the loops and sends one best-effort offline heartbeat so peers
// see the agent go away promptly. Stopping a stopped manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	creds := m.creds
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()

	if creds != nil {
		ctx, done := context.WithTimeout(context.Background(), 3*time.Second)
		defer done()
		_, err := m.client.SendHeartbeat(ctx, &chatapi.HeartbeatRequest{
			SupportsChat: true,
			Status:       "offline",
		})
		if err != nil {
			m.logger.Debug("Final offline heartbeat failed", slog.Any("error", err))
		}
	}
	m.logger.Info("Chat channel stopped")
}

func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	m.heartbeatTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.heartbeatTick(ctx)
		}
	}
}

func (m *Manager) heartbeatTick(ctx context.Context) {
	if !m.governor.ShouldEnableFeature(resilience.FeatureChatHeartbeat) {
		return
	}

	resp, err := m.client.SendHeartbeat(ctx, &chatapi.HeartbeatRequest{
		SupportsChat: true,
		Status:       "online",
	})
	if err != nil {
		if ctx.Err() == nil {
			m.governor.RecordFailure(err)
			m.logger.Debug("Chat heartbeat failed", slog.Any("error", err))
		}
		return
	}
	m.governor.RecordSuccess()

	m.mu.Lock()
	if m.creds != nil {
		m.creds.LastHeartbeatAt = time.Now().UTC()
	}
	m.mu.Unlock()

	if resp.UnreadCount > 0 {
		m.logger.Debug("Unread messages waiting", slog.Int("count", resp.UnreadCount))
	}
}

func (m *Manager) messageLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.MessageInterval
	if interval < config.MinMessageInterval {
		interval = config.MinMessageInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.messageTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.messageTick(ctx)
		}
	}
}

// messageTick lists conversations and drains unread ones through the dedup
// processor, newest message first within each batch.
func (m *Manager) messageTick(ctx context.Context) {
	if !m.governor.ShouldEnableFeature(resilience.FeatureMessagePoll) {
		return
	}

	conversations, err := m.client.ListConversations(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.governor.RecordFailure(err)
			m.logger.Debug("Conversation poll failed", slog.Any("error", err))
		}
		return
	}
	m.governor.RecordSuccess()

	for _, conv := range conversations {
		if conv.UnreadCount == 0 {
			continue
		}
		messages, err := m.client.GetMessages(ctx, conv.Peer.ID, m.cfg.MessageLimit)
		if err != nil {
			if ctx.Err() == nil {
				m.governor.RecordFailure(err)
				m.logger.Debug("Message fetch failed",
					slog.String("peer_id", conv.Peer.ID),
					slog.Any("error", err),
				)
			}
			continue
		}

		sort.Slice(messages, func(i, j int) bool {
			return messages[i].CreatedAt.After(messages[j].CreatedAt)
		})
		for i := range messages {
			m.processor.Process(ctx, conv.Peer.ID, &messages[i])
		}
	}
}

// Send delivers a reply to a peer.
func (m *Manager) Send(ctx context.Context, peerID, content string) (*chatapi.SendMessageResponse, error) {
	m.mu.Lock()
	creds := m.creds
	m.mu.Unlock()
	if creds == nil {
		loaded, err := m.store.LoadChatCredentials()
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return nil, ErrNotRegistered
		}
		m.client.SetAPIKey(loaded.APIKey)
		m.mu.Lock()
		m.creds = loaded
		m.mu.Unlock()
	}

	return m.client.SendMessage(ctx, &chatapi.SendMessageRequest{
		TargetAgentID: peerID,
		Content:       content,
	})
}
