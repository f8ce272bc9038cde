package orchestrator

import (
	"time"

	"github.com/tetherlabs/tether/internal/connector"
	"github.com/tetherlabs/tether/internal/resilience"
)

// StatusSnapshot is a point-in-time view of the runtime for the gateway,
// the dashboard, and the CLI.
type StatusSnapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	State       connector.State `json:"state"`
	Tier        resilience.Tier `json:"tier"`
	Online      bool            `json:"online"`

	DeviceName          string    `json:"device_name,omitempty"`
	ConnectorID         string    `json:"connector_id,omitempty"`
	UserID              string    `json:"user_id,omitempty"`
	RegisteredAt        time.Time `json:"registered_at,omitempty"`
	LastContextReportAt time.Time `json:"last_context_report_at,omitempty"`

	ChatRunning bool   `json:"chat_running"`
	ChatAgentID string `json:"chat_agent_id,omitempty"`

	ExecutorName      string `json:"executor_name"`
	ExecutorAvailable bool   `json:"executor_available"`

	TotalErrors         int    `json:"total_errors"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`

	Events []Event `json:"events"`
}

// Snapshot captures the current runtime status.
func (o *Orchestrator) Snapshot() StatusSnapshot {
	stats := o.governor.Snapshot()

	snap := StatusSnapshot{
		GeneratedAt:         time.Now(),
		State:               o.conn.State(),
		Tier:                o.governor.Tier(),
		Online:              o.governor.Online(),
		ChatRunning:         o.chat.Running(),
		ExecutorName:        o.exec.Name(),
		ExecutorAvailable:   o.exec.IsAvailable(),
		TotalErrors:         stats.TotalErrors,
		ConsecutiveFailures: stats.ConsecutiveFailures,
		LastError:           stats.LastError,
	}

	if reg := o.conn.Registration(); reg != nil {
		snap.DeviceName = reg.DeviceName
		snap.ConnectorID = reg.ConnectorID
		snap.UserID = reg.UserID
		snap.RegisteredAt = reg.RegisteredAt
		snap.LastContextReportAt = reg.LastContextReportAt
	}
	if creds := o.chat.Credentials(); creds != nil {
		snap.ChatAgentID = creds.AgentID
	}

	o.mu.Lock()
	snap.Events = append([]Event(nil), o.events...)
	o.mu.Unlock()

	return snap
}
