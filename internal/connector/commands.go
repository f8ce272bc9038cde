package connector

import (
	"context"
	"log/slog"

	"github.com/tetherlabs/tether/internal/resilience"
)

// commandTick polls for pending commands and hands each unseen one to the
// handler. Command IDs are deduplicated in memory for the life of the
// process, so a command is dispatched at most once even when the backend
// re-delivers it.
func (m *Manager) commandTick(ctx context.Context, gen uint64) {
	if !m.governor.ShouldEnableFeature(resilience.FeatureCommandPoll) {
		return
	}
	reg := m.registration()
	if reg == nil {
		return
	}

	commands, err := m.client.PollCommands(ctx, reg.Token, reg.ConnectorID, m.cfg.Backend.CommandLimit)
	if err != nil {
		if ctx.Err() == nil {
			m.governor.RecordFailure(err)
			m.fireError(err)
		}
		return
	}
	m.governor.RecordSuccess()

	if gen != m.commands.current() {
		return
	}

	for i := range commands {
		cmd := commands[i]

		m.dispatchMu.Lock()
		seen := m.dispatched[cmd.CommandID]
		if !seen {
			m.dispatched[cmd.CommandID] = true
		}
		m.dispatchMu.Unlock()
		if seen {
			continue
		}

		m.logger.Info("Dispatching command",
			slog.String("command_id", cmd.CommandID),
			slog.String("command_type", cmd.CommandType),
		)
		if m.onCommand != nil {
			// Own goroutine: a slow command must not block the poll loop.
			go m.onCommand(ctx, &cmd)
		}
	}
}
