// Package connector owns the registration lifecycle: QR pairing, the
// connection state machine, the heartbeat and command pollers, and the
// registration file watcher.
package connector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tetherlabs/tether/internal/backend"
	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/resilience"
	"github.com/tetherlabs/tether/internal/store"
)

// State is the connection state of this device.
type State string

const (
	StateUnregistered State = "unregistered"
	StatePairing      State = "pairing"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Config holds the connector's runtime settings.
type Config struct {
	Backend        *config.BackendConfig
	Pairing        *config.PairingConfig
	DeviceName     string
	DeviceType     string
	ReportInterval time.Duration
}

// CommandHandler receives each newly polled command. It runs on its own
// goroutine so a slow command never blocks the poll loop.
type CommandHandler func(ctx context.Context, cmd *backend.Command)

// Manager is the registration/connection state machine.
type Manager struct {
	client   *backend.Client
	store    *store.Store
	governor *resilience.Governor
	cfg      *Config
	logger   *slog.Logger
	deviceID string

	mu            sync.Mutex
	state         State
	reg           *store.Registration
	pairingCancel context.CancelFunc
	runtimeCtx    context.Context

	heartbeat runner
	commands  runner
	watch     *fileWatcher

	reportInFlight atomic.Bool

	dispatchMu sync.Mutex
	dispatched map[string]bool

	onStateChange    func(old, new State)
	onQRReady        func(qrData string, expiresAt time.Time)
	onPairingExpired func()
	onCommand        CommandHandler
	onError          func(err error)
	workContext      func(ctx context.Context) string
}

// Option configures a Manager.
type Option func(*Manager)

// WithOnStateChange sets the state transition callback.
func WithOnStateChange(fn func(old, new State)) Option {
	return func(m *Manager) { m.onStateChange = fn }
}

// WithOnQRReady sets the callback fired when a QR payload is ready to render.
func WithOnQRReady(fn func(qrData string, expiresAt time.Time)) Option {
	return func(m *Manager) { m.onQRReady = fn }
}

// WithOnPairingExpired sets the callback fired once when a pairing window
// closes without registration.
func WithOnPairingExpired(fn func()) Option {
	return func(m *Manager) { m.onPairingExpired = fn }
}

// WithOnCommand sets the handler for polled commands.
func WithOnCommand(fn CommandHandler) Option {
	return func(m *Manager) { m.onCommand = fn }
}

// WithOnError sets the callback for poller tick failures.
func WithOnError(fn func(err error)) Option {
	return func(m *Manager) { m.onError = fn }
}

// WithWorkContextSource sets the producer for work-context report summaries.
func WithWorkContextSource(fn func(ctx context.Context) string) Option {
	return func(m *Manager) { m.workContext = fn }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a connector manager in the UNREGISTERED state.
func NewManager(client *backend.Client, st *store.Store, governor *resilience.Governor, cfg *Config, opts ...Option) *Manager {
	m := &Manager{
		client:     client,
		store:      st,
		governor:   governor,
		cfg:        cfg,
		logger:     logging.WithComponent("connector"),
		deviceID:   uuid.NewString(),
		state:      StateUnregistered,
		dispatched: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workContext == nil {
		m.workContext = func(ctx context.Context) string {
			return "agent online, no work summary configured"
		}
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Registration returns a copy of the active registration, or nil.
func (m *Manager) Registration() *store.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg == nil {
		return nil
	}
	reg := *m.reg
	return &reg
}

// ResumeFromStore restores a persisted registration without touching the
// network. Returns true when a valid registration was found; pollers start
// when StartRuntime is called.
func (m *Manager) ResumeFromStore() (bool, error) {
	reg, err := m.store.LoadRegistration()
	if err != nil {
		return false, err
	}
	if reg == nil {
		return false, nil
	}

	m.mu.Lock()
	m.reg = reg
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("Resumed registration from store",
		slog.String("connector_id", reg.ConnectorID),
		slog.String("device_name", reg.DeviceName),
	)
	return true, nil
}

// StartRuntime arms the file watcher and, if already connected, the pollers.
// ctx bounds the lifetime of everything started here.
func (m *Manager) StartRuntime(ctx context.Context) error {
	m.mu.Lock()
	m.runtimeCtx = ctx
	connected := m.state == StateConnected
	m.mu.Unlock()

	if err := m.startWatcher(ctx); err != nil {
		return err
	}
	if connected {
		return m.startPollers(ctx)
	}
	return nil
}

// StopRuntime stops the watcher, the pollers, and any active pairing poll.
func (m *Manager) StopRuntime() {
	m.mu.Lock()
	if m.pairingCancel != nil {
		m.pairingCancel()
		m.pairingCancel = nil
	}
	m.runtimeCtx = nil
	m.mu.Unlock()

	m.stopWatcher()
	m.heartbeat.stop()
	m.commands.stop()
}

// DisconnectOptions controls the disconnect flow.
type DisconnectOptions struct {
	// ClearLocal removes the persisted registration.
	ClearLocal bool
	// NotifyRemote tells the backend to unbind this connector.
	NotifyRemote bool
}

// Disconnect stops the pollers and tears down the pairing. The remote
// notification is best-effort; local state is only cleared when the remote
// side is not involved or acknowledged the unbind.
func (m *Manager) Disconnect(ctx context.Context, opts DisconnectOptions) error {
	m.mu.Lock()
	reg := m.reg
	if m.pairingCancel != nil {
		m.pairingCancel()
		m.pairingCancel = nil
	}
	m.mu.Unlock()

	m.heartbeat.stop()
	m.commands.stop()

	remoteOK := true
	if opts.NotifyRemote && reg != nil {
		err := m.client.Disconnect(ctx, reg.Token, &backend.DisconnectRequest{
			ConnectorID: reg.ConnectorID,
			Delete:      opts.ClearLocal,
		})
		if err != nil {
			remoteOK = false
			m.logger.Warn("Remote disconnect failed, keeping local state", slog.Any("error", err))
		}
	}

	if opts.ClearLocal && (!opts.NotifyRemote || remoteOK) {
		if err := m.store.ClearRegistration(); err != nil {
			return err
		}
		m.mu.Lock()
		m.reg = nil
		m.setStateLocked(StateUnregistered)
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	if m.reg != nil {
		m.reg.Status = store.RegistrationDisconnected
		if err := m.store.SaveRegistration(m.reg); err != nil {
			m.logger.Warn("Failed to persist disconnected status", slog.Any("error", err))
		}
	}
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	return nil
}

// startPollers starts the heartbeat and command loops. Already-running
// loops are left alone.
func (m *Manager) startPollers(ctx context.Context) error {
	if err := m.heartbeat.start(ctx, m.cfg.Backend.HeartbeatInterval, m.heartbeatTick); err != nil && err != ErrAlreadyRunning {
		return err
	}
	if err := m.commands.start(ctx, m.cfg.Backend.CommandInterval, m.commandTick); err != nil && err != ErrAlreadyRunning {
		return err
	}
	m.logger.Info("Pollers started",
		slog.Duration("heartbeat_interval", m.cfg.Backend.HeartbeatInterval),
		slog.Duration("command_interval", m.cfg.Backend.CommandInterval),
	)
	return nil
}

func (m *Manager) stopPollers() {
	m.heartbeat.stop()
	m.commands.stop()
}

// setStateLocked transitions the state and fires the callback. Caller holds mu.
func (m *Manager) setStateLocked(next State) {
	if m.state == next {
		return
	}
	prev := m.state
	m.state = next
	m.logger.Info("Connection state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)
	if m.onStateChange != nil {
		go m.onStateChange(prev, next)
	}
}

func (m *Manager) fireError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

// registration returns a copy of the active registration for a tick, so tick
// bodies never read fields the report path mutates under mu.
func (m *Manager) registration() *store.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg == nil {
		return nil
	}
	reg := *m.reg
	return &reg
}
