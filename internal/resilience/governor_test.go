package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) *RetryConfig {
	return &RetryConfig{
		BaseDelay:    time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     4 * time.Millisecond,
		JitterFactor: 0,
		MaxRetries:   maxRetries,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCategory Category
		wantRetry    bool
	}{
		{"unauthorized status", &StatusError{Code: 401}, CategoryAuthentication, false},
		{"forbidden status", &StatusError{Code: 403}, CategoryAuthentication, false},
		{"server error", &StatusError{Code: 500}, CategoryServer, true},
		{"bad gateway", &StatusError{Code: 502}, CategoryServer, true},
		{"rate limited", &StatusError{Code: 429}, CategoryServer, true},
		{"validation", &StatusError{Code: 422}, CategoryValidation, false},
		{"client error", &StatusError{Code: 404}, CategoryClient, false},
		{"request timeout status", &StatusError{Code: 408}, CategoryTimeout, true},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTimeout, true},
		{"connection refused", errors.New("dial tcp: connection refused"), CategoryNetwork, true},
		{"dns failure", errors.New("lookup api.example.com: no such host"), CategoryNetwork, true},
		{"timeout message", errors.New("request timed out"), CategoryTimeout, true},
		{"invalid token message", errors.New("invalid token supplied"), CategoryAuthentication, false},
		{"mystery", errors.New("something odd"), CategoryUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(tt.err)
			if classified.Category != tt.wantCategory {
				t.Errorf("Classify() category = %q, want %q", classified.Category, tt.wantCategory)
			}
			if classified.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", classified.Retryable(), tt.wantRetry)
			}
		})
	}
}

func TestClassifyPassthrough(t *testing.T) {
	original := &ClassifiedError{Category: CategoryServer, Severity: SeverityHigh, Err: errors.New("boom")}
	wrapped := fmt.Errorf("call failed: %w", original)

	if got := Classify(wrapped); got != original {
		t.Errorf("Classify() should pass through an already-classified error, got %+v", got)
	}
}

func TestDelayCappedAndNonDecreasing(t *testing.T) {
	cfg := DefaultRetryConfig()

	var prev time.Duration
	for attempt := 0; attempt < 10; attempt++ {
		d := cfg.Delay(attempt)
		if d < prev {
			t.Errorf("Delay(%d) = %v decreased from %v", attempt, d, prev)
		}
		if d > cfg.MaxDelay {
			t.Errorf("Delay(%d) = %v exceeds cap %v", attempt, d, cfg.MaxDelay)
		}
		prev = d
	}

	if cfg.Delay(0) != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", cfg.Delay(0))
	}
	if cfg.Delay(1) != 2*time.Second {
		t.Errorf("Delay(1) = %v, want 2s", cfg.Delay(1))
	}
	// 2^20 seconds is far past the cap.
	if cfg.Delay(20) != cfg.MaxDelay {
		t.Errorf("Delay(20) = %v, want cap %v", cfg.Delay(20), cfg.MaxDelay)
	}
}

func TestWithRetryExhaustsRetriesOnNetworkFailure(t *testing.T) {
	g := NewGovernor(fastRetryConfig(5))

	calls := 0
	err := g.WithRetry(context.Background(), "poll", func(ctx context.Context) error {
		calls++
		return errors.New("dial tcp: connection refused")
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// Initial attempt plus exactly MaxRetries retries.
	if calls != 6 {
		t.Errorf("fn called %d times, want 6", calls)
	}
	var classified *ClassifiedError
	if !errors.As(err, &classified) {
		t.Fatalf("error is %T, want *ClassifiedError", err)
	}
	if classified.Category != CategoryNetwork {
		t.Errorf("category = %q, want %q", classified.Category, CategoryNetwork)
	}
}

func TestWithRetryDoesNotRetryAuthentication(t *testing.T) {
	g := NewGovernor(fastRetryConfig(5))

	calls := 0
	err := g.WithRetry(context.Background(), "heartbeat", func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 401}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (no retry for authentication)", calls)
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	g := NewGovernor(fastRetryConfig(5))

	calls := 0
	err := g.WithRetry(context.Background(), "poll", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRetry() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
	if got := g.Snapshot().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures = %d after success, want 0", got)
	}
}

func TestCircuitBreakerFiresOncePerCrossing(t *testing.T) {
	g := NewGovernor(fastRetryConfig(0))

	fired := 0
	g.OnCircuitOpen(func(consecutive int) { fired++ })

	for i := 0; i < 15; i++ {
		g.RecordFailure(errors.New("connection refused"))
	}
	if fired != 1 {
		t.Errorf("breaker fired %d times, want exactly 1", fired)
	}

	// Success re-arms; the next crossing fires again.
	g.RecordSuccess()
	for i := 0; i < 10; i++ {
		g.RecordFailure(errors.New("connection refused"))
	}
	if fired != 2 {
		t.Errorf("breaker fired %d times after re-arm, want 2", fired)
	}
}

func TestDegradationTiers(t *testing.T) {
	g := NewGovernor(fastRetryConfig(0))

	if got := g.Tier(); got != TierFull {
		t.Errorf("initial tier = %q, want %q", got, TierFull)
	}
	if !g.ShouldEnableFeature(FeatureMessagePoll) {
		t.Error("full tier should enable message polling")
	}

	for i := 0; i < limitedThreshold; i++ {
		g.RecordFailure(errors.New("connection refused"))
	}
	if got := g.Tier(); got != TierLimited {
		t.Errorf("tier after %d failures = %q, want %q", limitedThreshold, got, TierLimited)
	}
	if !g.ShouldEnableFeature(FeatureHeartbeat) {
		t.Error("limited tier should still enable the heartbeat")
	}
	if g.ShouldEnableFeature(FeatureCommandPoll) {
		t.Error("limited tier should disable command polling")
	}

	g.SetOnline(false)
	if got := g.Tier(); got != TierOffline {
		t.Errorf("tier while offline = %q, want %q", got, TierOffline)
	}
	if g.ShouldEnableFeature(FeatureHeartbeat) {
		t.Error("offline tier should disable everything")
	}

	g.SetOnline(true)
	g.RecordSuccess()
	if got := g.Tier(); got != TierFull {
		t.Errorf("tier after recovery = %q, want %q", got, TierFull)
	}
}

func TestStatsSnapshot(t *testing.T) {
	g := NewGovernor(fastRetryConfig(0))

	g.RecordFailure(&StatusError{Code: 500})
	g.RecordFailure(errors.New("connection refused"))

	snap := g.Snapshot()
	if snap.TotalErrors != 2 {
		t.Errorf("TotalErrors = %d, want 2", snap.TotalErrors)
	}
	if snap.ErrorsByCategory[CategoryServer] != 1 {
		t.Errorf("server errors = %d, want 1", snap.ErrorsByCategory[CategoryServer])
	}
	if snap.ErrorsByCategory[CategoryNetwork] != 1 {
		t.Errorf("network errors = %d, want 1", snap.ErrorsByCategory[CategoryNetwork])
	}
	if snap.LastError == "" {
		t.Error("LastError should be recorded")
	}

	// Mutating the snapshot must not touch the governor's counters.
	snap.ErrorsByCategory[CategoryServer] = 99
	if g.Snapshot().ErrorsByCategory[CategoryServer] != 1 {
		t.Error("snapshot maps must be copies")
	}
}

func TestProbeTransitions(t *testing.T) {
	g := NewGovernor(fastRetryConfig(0))

	var failing atomic.Bool
	failing.Store(true)
	probe := NewProbe(g, func(ctx context.Context) error {
		if failing.Load() {
			return errors.New("connection refused")
		}
		return nil
	}, 5*time.Millisecond)

	restored := make(chan struct{}, 1)
	lost := make(chan struct{}, 1)
	probe.OnNetworkRestored(func() { restored <- struct{}{} })
	probe.OnNetworkLost(func() { lost <- struct{}{} })

	probe.Start(context.Background())
	defer probe.Stop()

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NetworkLost")
	}
	if g.Online() {
		t.Error("governor should be offline after NetworkLost")
	}

	failing.Store(false)
	select {
	case <-restored:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NetworkRestored")
	}
	if !g.Online() {
		t.Error("governor should be online after NetworkRestored")
	}
}
