// Package report schedules the daily work-context report.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tetherlabs/tether/internal/config"
	"github.com/tetherlabs/tether/internal/logging"
)

// Reporter uploads one work-context snapshot. The connector's in-flight guard
// collapses a cron trigger that overlaps the heartbeat piggyback.
type Reporter interface {
	ReportWorkContext(ctx context.Context) error
}

// Scheduler fires the work-context report on a daily schedule.
type Scheduler struct {
	reporter Reporter
	cfg      *config.ReportConfig
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	entryID cron.EntryID
}

// NewScheduler creates a report scheduler.
func NewScheduler(reporter Reporter, cfg *config.ReportConfig) *Scheduler {
	logger := logging.WithComponent("report-scheduler")

	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		parsed, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn("Invalid timezone, using UTC",
				slog.String("timezone", cfg.Timezone),
				slog.Any("error", err),
			)
			parsed = time.UTC
		}
		loc = parsed
	}

	return &Scheduler{
		reporter: reporter,
		cfg:      cfg,
		cron:     cron.New(cron.WithLocation(loc)),
		logger:   logger,
	}
}

// cronSpec converts an "HH:MM" daily time into a cron expression.
func cronSpec(at string) (string, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time format: %s (expected HH:MM)", at)
	}
	return fmt.Sprintf("%s %s * * *", parts[1], parts[0]), nil
}

// Start begins the schedule. Disabled config is a logged no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if !s.cfg.Enabled {
		s.logger.Info("Report scheduler disabled")
		return nil
	}

	spec, err := cronSpec(s.cfg.Time)
	if err != nil {
		return err
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		if err := s.reporter.ReportWorkContext(ctx); err != nil {
			s.logger.Warn("Scheduled report failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return err
	}

	s.entryID = entryID
	s.cron.Start()
	s.running = true

	s.logger.Info("Report scheduler started",
		slog.String("schedule", spec),
		slog.Time("next_run", s.cron.Entry(s.entryID).Next),
	)
	return nil
}

// Stop stops the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Report scheduler stopped")
}

// NextRun returns the next scheduled run time, zero when not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}
