package connector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tetherlabs/tether/internal/backend"
	"github.com/tetherlabs/tether/internal/resilience"
	"github.com/tetherlabs/tether/internal/store"
)

// ErrNotPaired is returned by operations that need an active registration.
var ErrNotPaired = errors.New("not paired")

// ReportWorkContext uploads a work-context snapshot. Overlapping triggers
// (heartbeat piggyback, cron schedule, CLI) collapse into one upload via the
// in-flight guard; the losing caller returns nil immediately.
func (m *Manager) ReportWorkContext(ctx context.Context) error {
	if !m.reportInFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer m.reportInFlight.Store(false)

	reg := m.registration()
	if reg == nil {
		return ErrNotPaired
	}

	req := &backend.WorkContextRequest{
		ConnectorID: reg.ConnectorID,
		Summary:     m.workContext(ctx),
		ReportedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	err := m.governor.WithRetry(ctx, "work-context", func(ctx context.Context) error {
		return m.client.ReportWorkContext(ctx, reg.Token, req)
	})
	if err != nil {
		var classified *resilience.ClassifiedError
		if errors.As(err, &classified) && classified.Retryable() {
			if qerr := m.store.EnqueuePendingSync(store.PendingWorkContext, req); qerr != nil {
				m.logger.Warn("Failed to queue work-context report for resend", slog.Any("error", qerr))
			}
		}
		return err
	}

	m.mu.Lock()
	if m.reg != nil {
		m.reg.LastContextReportAt = time.Now().UTC()
		if serr := m.store.SaveRegistration(m.reg); serr != nil {
			m.logger.Warn("Failed to persist report timestamp", slog.Any("error", serr))
		}
	}
	m.mu.Unlock()

	m.logger.Info("Work context reported", slog.String("connector_id", reg.ConnectorID))
	return nil
}
