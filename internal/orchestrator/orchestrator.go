// Package orchestrator wires the connector, chat channel, executor, and
// resilience layer together and routes work between them.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/backend"
	"github.com/tetherlabs/tether/internal/chat"
	"github.com/tetherlabs/tether/internal/chatapi"
	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/connector"
	"github.com/tetherlabs/tether/internal/executor"
	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/resilience"
	"github.com/tetherlabs/tether/internal/store"
)

// maxEvents bounds the in-memory event ring exposed to status surfaces.
const maxEvents = 50

// Event is one notable runtime occurrence, kept for status surfaces.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

// Orchestrator is the composition root for the agent runtime.
type Orchestrator struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	governor *resilience.Governor
	probe    *resilience.Probe
	conn     *connector.Manager
	chat     *chat.Manager
	exec     executor.Backend
	client   *backend.Client

	mu      sync.Mutex
	events  []Event
	started bool
	cancel  context.CancelFunc
}

// New builds the full runtime from configuration. Nothing is started yet.
func New(cfg *config.Config) (*Orchestrator, error) {
	st, err := store.New(cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	o := &Orchestrator{
		cfg:    cfg,
		logger: logging.WithComponent("orchestrator"),
		store:  st,
		exec:   executor.NewClaudeBackend(cfg.Executor.Binary),
	}

	o.governor = resilience.NewGovernor(cfg.Retry)
	o.governor.OnCircuitOpen(func(consecutive int) {
		o.record("circuit-open", fmt.Sprintf("%d consecutive failures", consecutive))
	})

	o.client = backend.NewClient(cfg.Backend.BaseURL)
	o.conn = connector.NewManager(o.client, st, o.governor,
		&connector.Config{
			Backend:        cfg.Backend,
			Pairing:        cfg.Pairing,
			DeviceName:     cfg.DeviceName,
			DeviceType:     cfg.DeviceType,
			ReportInterval: cfg.Report.Interval,
		},
		connector.WithOnStateChange(func(old, new connector.State) {
			o.record("state-change", fmt.Sprintf("%s -> %s", old, new))
		}),
		connector.WithOnPairingExpired(func() {
			o.record("pairing-expired", "pairing window closed without registration")
		}),
		connector.WithOnCommand(o.handleCommand),
		connector.WithOnError(func(err error) {
			o.record("poll-error", err.Error())
		}),
	)

	chatClient := chatapi.NewClient(cfg.Chat.Endpoint, "")
	o.chat = chat.NewManager(chatClient, st, o.governor, cfg.Chat, o.handleChatMessage)

	probeClient := &http.Client{Timeout: 5 * time.Second}
	o.probe = resilience.NewProbe(o.governor,
		resilience.HTTPCheck(probeClient, cfg.Backend.BaseURL+"/health"),
		cfg.Backend.ProbeInterval,
	)
	o.probe.OnNetworkRestored(func() {
		o.record("network-restored", "connectivity back, flushing pending sync")
		go o.conn.FlushPendingSync(context.Background())
	})
	o.probe.OnNetworkLost(func() {
		o.record("network-lost", "backend unreachable")
	})

	return o, nil
}

// Store exposes the state store, e.g. for CLI status commands.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Connector exposes the connection state machine.
func (o *Orchestrator) Connector() *connector.Manager { return o.conn }

// Chat exposes the chat channel manager.
func (o *Orchestrator) Chat() *chat.Manager { return o.chat }

// Start resumes persisted state and launches the pollers, the probe, and the
// chat channel. ctx bounds the runtime's lifetime.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	o.started = true
	o.cancel = cancel
	o.mu.Unlock()

	if !o.exec.IsAvailable() {
		o.logger.Warn("AI executor not available, commands will be reported as failed",
			slog.String("backend", o.exec.Name()),
		)
		o.record("executor-unavailable", o.exec.Name())
	}

	if _, err := o.conn.ResumeFromStore(); err != nil {
		return err
	}
	if err := o.conn.StartRuntime(ctx); err != nil {
		return err
	}
	if err := o.chat.Start(ctx); err != nil {
		return err
	}
	o.probe.Start(ctx)

	o.record("started", "runtime up")
	o.logger.Info("Orchestrator started", slog.String("state", string(o.conn.State())))
	return nil
}

// Stop shuts the runtime down: probe, chat (with its final offline
// heartbeat), then the connector pollers and watcher.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()

	o.probe.Stop()
	o.chat.Stop()
	o.conn.StopRuntime()
	cancel()

	o.record("stopped", "runtime down")
	o.logger.Info("Orchestrator stopped")
}

// handleCommand executes one remote command and reports its outcome. Runs on
// its own goroutine, dispatched by the command poller.
func (o *Orchestrator) handleCommand(ctx context.Context, cmd *backend.Command) {
	result := &backend.CommandResultRequest{
		CommandID: cmd.CommandID,
		Status:    backend.CommandCompleted,
	}
	if reg := o.conn.Registration(); reg != nil {
		result.ConnectorID = reg.ConnectorID
	}

	res, err := o.exec.Execute(ctx, executor.Request{
		Prompt:     commandPrompt(cmd),
		SessionKey: "command-" + cmd.CommandID,
		Timeout:    o.cfg.Executor.Timeout,
	})
	switch {
	case err != nil:
		result.Status = backend.CommandFailed
		result.ErrorMessage = err.Error()
	case res.IsError:
		result.Status = backend.CommandFailed
		result.ErrorMessage = res.Text
	default:
		result.Result = res.Text
	}

	o.reportCommandResult(ctx, result)
}

// reportCommandResult delivers a command outcome, queueing it for resend on
// transient failure. Outcomes are never silently dropped.
func (o *Orchestrator) reportCommandResult(ctx context.Context, result *backend.CommandResultRequest) {
	reg := o.conn.Registration()
	if reg == nil {
		return
	}

	err := o.governor.WithRetry(ctx, "command-result", func(ctx context.Context) error {
		return o.client.ReportCommandResult(ctx, reg.Token, result)
	})
	if err != nil {
		var classified *resilience.ClassifiedError
		if errors.As(err, &classified) && classified.Retryable() {
			if qerr := o.store.EnqueuePendingSync(store.PendingCommandResult, result); qerr != nil {
				o.logger.Warn("Failed to queue command result for resend", slog.Any("error", qerr))
			}
		}
		o.logger.Warn("Command result delivery failed",
			slog.String("command_id", result.CommandID),
			slog.Any("error", err),
		)
		o.record("result-delivery-failed", result.CommandID)
		return
	}

	o.logger.Info("Command result reported",
		slog.String("command_id", result.CommandID),
		slog.String("status", result.Status),
	)
}

// handleChatMessage answers one deduplicated incoming chat message.
func (o *Orchestrator) handleChatMessage(ctx context.Context, peerID string, msg *chatapi.Message) {
	res, err := o.exec.Execute(ctx, executor.Request{
		Prompt:     msg.Content,
		SessionKey: "chat-" + msg.ID,
		Timeout:    o.cfg.Executor.Timeout,
	})
	if err != nil {
		o.logger.Warn("Chat message execution failed",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
		o.record("chat-exec-failed", msg.ID)
		return
	}
	if res.IsError {
		o.logger.Warn("Chat message execution returned an error",
			slog.String("message_id", msg.ID),
			slog.String("detail", res.Text),
		)
		return
	}

	if _, err := o.chat.Send(ctx, peerID, res.Text); err != nil {
		o.logger.Warn("Chat reply delivery failed",
			slog.String("peer_id", peerID),
			slog.Any("error", err),
		)
	}
}

// commandPrompt extracts the prompt text from a command payload. Payloads are
// JSON objects with a prompt or text field; anything else is passed through
// verbatim.
func commandPrompt(cmd *backend.Command) string {
	var payload struct {
		Prompt string `json:"prompt"`
		Text   string `json:"text"`
	}
	if err := json.Unmarshal(cmd.CommandPayload, &payload); err == nil {
		if payload.Prompt != "" {
			return payload.Prompt
		}
		if payload.Text != "" {
			return payload.Text
		}
	}
	return strings.Trim(string(cmd.CommandPayload), `"`)
}

// record appends an event to the bounded ring.
func (o *Orchestrator) record(kind, detail string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, Event{Time: time.Now(), Kind: kind, Detail: detail})
	if len(o.events) > maxEvents {
		o.events = o.events[len(o.events)-maxEvents:]
	}
}
