package resilience

import (
	"context"
	"fmt"
	"time"
)

// Bounded runs fn under a deadline derived from ctx and returns its result.
// fn keeps running in the background after the deadline; its late result is
// discarded. A non-positive limit runs fn inline with no deadline.
func Bounded[T any](ctx context.Context, limit time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	if limit <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()

	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		if cause := context.Cause(ctx); cause != context.DeadlineExceeded {
			return zero, fmt.Errorf("%s: cancelled: %w", name, cause)
		}
		return zero, fmt.Errorf("%s: %w after %v", name, context.DeadlineExceeded, limit)
	}
}

// WithTimeout is Bounded for functions with no result.
func WithTimeout(ctx context.Context, limit time.Duration, name string, fn func(context.Context) error) error {
	_, err := Bounded(ctx, limit, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
