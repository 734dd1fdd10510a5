package util

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultMaxAttempts is the attempt cap used when a policy leaves it unset.
const DefaultMaxAttempts = 4

// RetryPolicy bounds FetchWithRetry. The wait after failed attempt i
// (1-indexed) is Backoff*i.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// FetchWithRetry calls fn until it succeeds, fails with a non-transient error,
// or MaxAttempts transient failures have happened. In the last case it returns
// a KindExhausted *FetchError wrapping the last failure.
// If the context is cancelled, FetchWithRetry returns the context error immediately.
func FetchWithRetry[T any](ctx context.Context, policy RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("Fetch succeeded after retry", "op", op, "attempt", attempt)
			}
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
		}
		if !retryable(err) {
			slog.Warn("Fetch failed, not retrying", "op", op, "attempt", attempt, "error", err)
			return zero, err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		wait := policy.Backoff * time.Duration(attempt)
		slog.Warn("Fetch attempt failed, retrying", "op", op, "attempt", attempt, "max_attempts", maxAttempts, "wait", wait, "error", err)
		if err := Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	slog.Error("Fetch failed after all attempts", "op", op, "attempts", maxAttempts, "error", lastErr)
	return zero, &FetchError{Kind: KindExhausted, Op: op, Attempts: maxAttempts, Err: lastErr}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
