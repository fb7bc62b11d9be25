package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/loreforge/pkg/backend"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// RetryOption customises [WithRetry] and [WithLinearRetry].
type RetryOption func(*retryConfig)

type retryConfig struct {
	retryable func(error) bool
	onRetry   func(attempt int, delay time.Duration, err error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// RetryIf replaces the retry classifier. The default for [WithRetry] is
// [backend.IsRateLimit].
func RetryIf(fn func(error) bool) RetryOption {
	return func(c *retryConfig) { c.retryable = fn }
}

// OnRetry registers a callback invoked before each wait with the number of
// the attempt about to run (2, 3, ...), the delay, and the error that caused
// the retry.
func OnRetry(fn func(attempt int, delay time.Duration, err error)) RetryOption {
	return func(c *retryConfig) { c.onRetry = fn }
}

// WithSleep replaces the wait function. Tests use it to observe delays
// without sleeping.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(c *retryConfig) { c.sleep = fn }
}

func newRetryConfig(opts []RetryOption) *retryConfig {
	c := &retryConfig{
		retryable: backend.IsRateLimit,
		sleep:     sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithRetry runs op up to maxAttempts times. Only errors classified as
// rate limiting are retried; any other error is returned after the first
// attempt. The delay before attempt k (k ≥ 2) is baseDelay·2^(k-2). When
// every attempt fails the last error is returned. If ctx ends during a wait
// the context error is returned joined with the last operation error.
func WithRetry[T any](ctx context.Context, maxAttempts int, baseDelay time.Duration, op func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	return retry(ctx, maxAttempts, op, func(attempt int) time.Duration {
		return baseDelay << (attempt - 2)
	}, newRetryConfig(opts))
}

// WithLinearRetry runs op up to maxAttempts times, retrying every error
// (unless overridden with [RetryIf]). The delay before attempt k (k ≥ 2)
// is delay·(k-1).
func WithLinearRetry[T any](ctx context.Context, maxAttempts int, delay time.Duration, op func(context.Context) (T, error), opts ...RetryOption) (T, error) {
	cfg := newRetryConfig(append([]RetryOption{RetryIf(func(err error) bool { return err != nil })}, opts...))
	return retry(ctx, maxAttempts, op, func(attempt int) time.Duration {
		return delay * time.Duration(attempt-1)
	}, cfg)
}

func retry[T any](ctx context.Context, maxAttempts int, op func(context.Context) (T, error), delayFor func(attempt int) time.Duration, cfg *retryConfig) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d := delayFor(attempt)
			if cfg.onRetry != nil {
				cfg.onRetry(attempt, d, lastErr)
			}
			if err := cfg.sleep(ctx, d); err != nil {
				return zero, errors.Join(err, lastErr)
			}
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !cfg.retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
