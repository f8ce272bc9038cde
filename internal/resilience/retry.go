package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls the backoff schedule used by WithRetry.
type RetryConfig struct {
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration `yaml:"base_delay"`

	// Multiplier grows the delay after each retry.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// JitterFactor randomizes each delay by ±factor·delay.
	JitterFactor float64 `yaml:"jitter_factor"`

	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultRetryConfig returns the standard schedule: 1s, 2s, 4s, ... capped at
// 60s, jittered by ±30%, five retries.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		BaseDelay:    time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
		JitterFactor: 0.3,
		MaxRetries:   5,
	}
}

// Delay computes the capped backoff for a zero-based attempt, before jitter.
func (c *RetryConfig) Delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if max := float64(c.MaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// jittered applies ±JitterFactor·delay, never going negative.
func (c *RetryConfig) jittered(delay time.Duration) time.Duration {
	if c.JitterFactor <= 0 {
		return delay
	}
	offset := (rand.Float64()*2 - 1) * c.JitterFactor * float64(delay)
	result := time.Duration(float64(delay) + offset)
	if result < 0 {
		return 0
	}
	return result
}

// WithRetry runs fn, retrying while the classified failure is retryable and
// attempts remain. Every attempt feeds the governor's statistics; a success
// resets the consecutive-failure counter. The returned error is always a
// *ClassifiedError when fn failed.
func (g *Governor) WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var classified *ClassifiedError

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			g.RecordSuccess()
			return nil
		}

		classified = Classify(err)
		g.recordFailure(classified)

		if !classified.Retryable() || attempt >= g.retry.MaxRetries {
			return classified
		}

		delay := g.retry.jittered(g.retry.Delay(attempt))
		g.logger.Debug("Retrying after failure",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("category", string(classified.Category)),
		)

		select {
		case <-ctx.Done():
			return Classify(ctx.Err())
		case <-time.After(delay):
		}
	}
}
