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

// heartbeatTick posts one liveness signal. A successful beat flushes the
// pending-sync queue and checks whether a work-context report is due.
func (m *Manager) heartbeatTick(ctx context.Context, gen uint64) {
	if !m.governor.ShouldEnableFeature(resilience.FeatureHeartbeat) {
		return
	}
	reg := m.registration()
	if reg == nil {
		return
	}

	req := &backend.HeartbeatRequest{
		ConnectorID: reg.ConnectorID,
		Status:      "online",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	err := m.governor.WithRetry(ctx, "heartbeat", func(ctx context.Context) error {
		return m.client.SendHeartbeat(ctx, reg.Token, req)
	})
	if err != nil {
		var classified *resilience.ClassifiedError
		if errors.As(err, &classified) && classified.Retryable() {
			if qerr := m.store.EnqueuePendingSync(store.PendingHeartbeat, req); qerr != nil {
				m.logger.Warn("Failed to queue heartbeat for resend", slog.Any("error", qerr))
			}
		}
		m.fireError(err)
		return
	}

	if gen != m.heartbeat.current() {
		return
	}

	m.FlushPendingSync(ctx)
	m.maybeReportContext(ctx)
}

// maybeReportContext triggers a work-context report when the last one is
// older than the report interval. The report runs on its own goroutine; the
// in-flight guard collapses overlapping triggers.
func (m *Manager) maybeReportContext(ctx context.Context) {
	if !m.governor.ShouldEnableFeature(resilience.FeatureContextReport) {
		return
	}
	if m.cfg.ReportInterval <= 0 {
		return
	}
	reg := m.registration()
	if reg == nil {
		return
	}
	if time.Since(reg.LastContextReportAt) < m.cfg.ReportInterval {
		return
	}

	go func() {
		if err := m.ReportWorkContext(ctx); err != nil {
			m.logger.Warn("Scheduled work-context report failed", slog.Any("error", err))
		}
	}()
}
