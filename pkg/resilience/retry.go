package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls backoff between attempts. Zero fields take defaults.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64

	// Retryable reports whether an error is worth another attempt. Nil
	// retries everything except Permanent errors.
	Retryable func(error) bool
	// OnRetry runs before each backoff. Nil logs a warning.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do and Retry return it
// unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx ends. The result of the successful call is returned.
func Do[T any](ctx context.Context, name string, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	onRetry := cfg.OnRetry
	if onRetry == nil {
		logger := slog.Default().With("component", "retry", "operation", name)
		onRetry = func(attempt int, err error, delay time.Duration) {
			logger.Warn("operation failed, retrying",
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"error", err,
				"next_delay", delay,
			)
		}
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt >= cfg.MaxAttempts {
			return zero, fmt.Errorf("%s: all %d attempts failed: %w", name, cfg.MaxAttempts, err)
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: retry aborted: %w", name, ctx.Err())
		}

		delay := backoff(attempt, cfg)
		onRetry(attempt, err, delay)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("%s: retry aborted during backoff: %w", name, ctx.Err())
		}
	}
}

// Retry is Do for functions with no result.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	_, err := Do(ctx, name, cfg, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	d += d * cfg.JitterFraction * (2*rand.Float64() - 1)
	d = min(d, float64(cfg.MaxDelay))
	if d < 0 {
		d = float64(cfg.InitialDelay)
	}
	return time.Duration(d)
}
