package connector

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tetherlabs/tether/internal/backend"
	"github.com/tetherlabs/tether/internal/store"
)

// FlushPendingSync replays queued reports once each. Items that fail again
// go back on the queue with an incremented attempt count; items at the
// attempt cap are dropped with a warning. The queue is taken in one step and
// failures are requeued with a merge, so reports enqueued while the flush is
// running survive it. Called after a successful heartbeat and when the
// network probe reports a restore.
func (m *Manager) FlushPendingSync(ctx context.Context) {
	reg := m.registration()
	if reg == nil {
		return
	}

	items, err := m.store.TakePendingSync()
	if err != nil {
		m.logger.Warn("Failed to load pending sync queue", slog.Any("error", err))
		return
	}
	if len(items) == 0 {
		return
	}

	var remaining []store.PendingSyncItem
	flushed := 0
	for _, item := range items {
		if err := m.replayPending(ctx, reg.Token, item); err != nil {
			item.Attempts++
			if item.Attempts >= store.MaxSyncAttempts {
				m.logger.Warn("Dropping pending sync item after max attempts",
					slog.String("type", string(item.Type)),
					slog.Int("attempts", item.Attempts),
					slog.Any("error", err),
				)
				continue
			}
			remaining = append(remaining, item)
			continue
		}
		flushed++
	}

	if err := m.store.RequeuePendingSync(remaining); err != nil {
		m.logger.Warn("Failed to persist pending sync queue", slog.Any("error", err))
	}
	if flushed > 0 {
		m.logger.Info("Flushed pending sync items",
			slog.Int("flushed", flushed),
			slog.Int("remaining", len(remaining)),
		)
	}
}

// replayPending resends one queued item. No retry here: the queue's attempt
// counter is the retry budget.
func (m *Manager) replayPending(ctx context.Context, token string, item store.PendingSyncItem) error {
	switch item.Type {
	case store.PendingHeartbeat:
		var req backend.HeartbeatRequest
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			return err
		}
		return m.client.SendHeartbeat(ctx, token, &req)
	case store.PendingCommandResult:
		var req backend.CommandResultRequest
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			return err
		}
		return m.client.ReportCommandResult(ctx, token, &req)
	case store.PendingWorkContext:
		var req backend.WorkContextRequest
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			return err
		}
		return m.client.ReportWorkContext(ctx, token, &req)
	default:
		m.logger.Warn("Unknown pending sync type, dropping", slog.String("type", string(item.Type)))
		return nil
	}
}
