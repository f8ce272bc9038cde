package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/logging"
)

// Degradation tiers, from healthy to dead.
type Tier string

const (
	TierFull    Tier = "full"    // everything may run
	TierLimited Tier = "limited" // heartbeats only
	TierOffline Tier = "offline" // nothing may run
)

const (
	// limitedThreshold is the consecutive-failure count that drops the tier
	// to limited.
	limitedThreshold = 5

	// breakerThreshold is the consecutive-failure count that raises the
	// circuit-breaker signal.
	breakerThreshold = 10
)

// Stats holds the rolling failure counters.
type Stats struct {
	TotalErrors         int
	ErrorsByCategory    map[Category]int
	ErrorsBySeverity    map[Severity]int
	ConsecutiveFailures int
	LastError           string
	LastSuccessAt       time.Time
}

// Governor owns the retry schedule, the failure statistics, the
// circuit-breaker signal and the degradation policy. One governor is shared
// by every poller of a channel so their failures aggregate.
type Governor struct {
	retry  *RetryConfig
	logger *slog.Logger

	mu           sync.Mutex
	stats        Stats
	online       bool
	breakerFired bool
	onBreaker    []func(consecutive int)
}

// NewGovernor creates a governor with the given retry schedule (nil uses the
// default). The governor starts online and at full tier.
func NewGovernor(retry *RetryConfig) *Governor {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	return &Governor{
		retry:  retry,
		logger: logging.WithComponent("resilience"),
		stats: Stats{
			ErrorsByCategory: make(map[Category]int),
			ErrorsBySeverity: make(map[Severity]int),
		},
		online: true,
	}
}

// OnCircuitOpen registers a callback fired once per threshold crossing, when
// consecutive failures reach the breaker threshold.
func (g *Governor) OnCircuitOpen(fn func(consecutive int)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onBreaker = append(g.onBreaker, fn)
}

// RecordSuccess resets the consecutive-failure counter and re-arms the
// circuit breaker.
func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	g.stats.ConsecutiveFailures = 0
	g.stats.LastSuccessAt = time.Now()
	g.breakerFired = false
	g.mu.Unlock()
}

// RecordFailure classifies err, feeds the statistics, and returns the
// classified error.
func (g *Governor) RecordFailure(err error) *ClassifiedError {
	classified := Classify(err)
	g.recordFailure(classified)
	return classified
}

func (g *Governor) recordFailure(classified *ClassifiedError) {
	g.mu.Lock()

	g.stats.TotalErrors++
	g.stats.ErrorsByCategory[classified.Category]++
	g.stats.ErrorsBySeverity[classified.Severity]++
	g.stats.ConsecutiveFailures++
	g.stats.LastError = classified.Error()

	var fire []func(int)
	consecutive := g.stats.ConsecutiveFailures
	if consecutive >= breakerThreshold && !g.breakerFired {
		g.breakerFired = true
		fire = append(fire, g.onBreaker...)
	}
	g.mu.Unlock()

	for _, fn := range fire {
		fn(consecutive)
	}
	if len(fire) > 0 {
		g.logger.Warn("Circuit breaker opened",
			slog.Int("consecutive_failures", consecutive),
		)
	}
}

// SetOnline records the connectivity probe's verdict. Returns true when the
// flag actually changed.
func (g *Governor) SetOnline(online bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.online == online {
		return false
	}
	g.online = online
	return true
}

// Online reports the probe's last verdict.
func (g *Governor) Online() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online
}

// Tier returns the current degradation tier.
func (g *Governor) Tier() Tier {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tierLocked()
}

func (g *Governor) tierLocked() Tier {
	if !g.online {
		return TierOffline
	}
	if g.stats.ConsecutiveFailures >= limitedThreshold {
		return TierLimited
	}
	return TierFull
}

// Feature names checked against the degradation policy.
const (
	FeatureHeartbeat     = "heartbeat"
	FeatureChatHeartbeat = "chat-heartbeat"
	FeatureCommandPoll   = "command-poll"
	FeatureMessagePoll   = "message-poll"
	FeatureContextReport = "context-report"
)

// ShouldEnableFeature reports whether the named feature may run under the
// current tier: offline permits nothing, limited permits only heartbeats,
// full permits everything.
func (g *Governor) ShouldEnableFeature(feature string) bool {
	switch g.Tier() {
	case TierOffline:
		return false
	case TierLimited:
		return feature == FeatureHeartbeat || feature == FeatureChatHeartbeat
	default:
		return true
	}
}

// Snapshot returns a copy of the rolling statistics.
func (g *Governor) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := g.stats
	snap.ErrorsByCategory = make(map[Category]int, len(g.stats.ErrorsByCategory))
	for k, v := range g.stats.ErrorsByCategory {
		snap.ErrorsByCategory[k] = v
	}
	snap.ErrorsBySeverity = make(map[Severity]int, len(g.stats.ErrorsBySeverity))
	for k, v := range g.stats.ErrorsBySeverity {
		snap.ErrorsBySeverity[k] = v
	}
	return snap
}
