package resilience

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tetherlabs/tether/internal/logging"
)

// DefaultProbeInterval is how often the connectivity probe checks the backend.
const DefaultProbeInterval = 30 * time.Second

// CheckFunc performs one connectivity check. A nil error means online.
type CheckFunc func(ctx context.Context) error

// Probe tracks an online/offline flag with a low-frequency check loop and
// emits transition events. The governor's degradation tier and the optimistic
// pending-sync resend both hang off these transitions.
type Probe struct {
	check    CheckFunc
	interval time.Duration
	governor *Governor
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	onRestore []func()
	onLost    []func()
}

// NewProbe creates a probe that runs check every interval (0 uses the
// default) and records the verdict in governor.
func NewProbe(governor *Governor, check CheckFunc, interval time.Duration) *Probe {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Probe{
		check:    check,
		interval: interval,
		governor: governor,
		logger:   logging.WithComponent("resilience.probe"),
	}
}

// HTTPCheck returns a CheckFunc that issues a GET against url with a short
// timeout. Any response at all counts as online; only transport-level
// failures count as offline.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}
}

// OnNetworkRestored registers a callback fired on the offline→online
// transition.
func (p *Probe) OnNetworkRestored(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRestore = append(p.onRestore, fn)
}

// OnNetworkLost registers a callback fired on the online→offline transition.
func (p *Probe) OnNetworkLost(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLost = append(p.onLost, fn)
}

// Start begins the probe loop. Starting a running probe is a no-op.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Stop halts the probe loop. Stopping a stopped probe is a no-op.
func (p *Probe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *Probe) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Probe) tick(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.interval)
	err := p.check(checkCtx)
	cancel()

	online := err == nil
	if !p.governor.SetOnline(online) {
		return
	}

	p.mu.Lock()
	var fire []func()
	if online {
		fire = append(fire, p.onRestore...)
	} else {
		fire = append(fire, p.onLost...)
	}
	p.mu.Unlock()

	if online {
		p.logger.Info("Network restored")
	} else {
		p.logger.Warn("Network lost", slog.Any("error", err))
	}
	for _, fn := range fire {
		fn()
	}
}
