package connector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyRunning is returned when Start is called on a running poller.
var ErrAlreadyRunning = errors.New("poller already running")

// runner owns the lifecycle of one ticker loop. Each start bumps the
// generation; a tick that outlives its loop sees a stale generation and must
// not write state.
type runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	gen    atomic.Uint64
}

// start launches tick on its own goroutine. The first tick fires immediately,
// then every interval. The tick body is synchronous within the loop, so a
// long tick delays the next one rather than overlapping it.
func (r *runner) start(ctx context.Context, interval time.Duration, tick func(ctx context.Context, gen uint64)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	gen := r.gen.Add(1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick(ctx, gen)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx, gen)
			}
		}
	}()
	return nil
}

// stop cancels the loop. Stopping a stopped runner is a no-op. The generation
// is bumped so an in-flight tick discards its result instead of writing state.
func (r *runner) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	r.gen.Add(1)
}

// current returns the generation a tick must match before writing state.
func (r *runner) current() uint64 {
	return r.gen.Load()
}

func (r *runner) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}
