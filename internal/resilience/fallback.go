package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker. The last entry's error is wrapped alongside it.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures the circuit breakers of a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for breakers created per entry.
	CircuitBreaker CircuitBreakerConfig

	// Breakers, if set, supplies the breaker for an entry name instead of
	// creating a fresh one, so several groups naming the same backend share
	// one breaker.
	Breakers func(name string) *CircuitBreaker
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds an ordered list of interchangeable values (backends,
// clients) each guarded by a circuit breaker. Calls try the entries in
// order until one succeeds.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all previously added ones.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	var cb *CircuitBreaker
	if fg.cfg.Breakers != nil {
		cb = fg.cfg.Breakers(name)
	}
	if cb == nil {
		cbCfg := fg.cfg.CircuitBreaker
		cbCfg.Name = name
		cb = NewCircuitBreaker(cbCfg)
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: value, breaker: cb})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry of fg in order, skipping
// entries whose breaker is open, and returns the first successful result.
// When every entry fails the error wraps both [ErrAllFailed] and the last
// entry's error, so callers can still inspect the underlying cause with
// errors.As.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend (circuit open)", "backend", entry.name)
			continue
		}
		if i < len(fg.entries)-1 {
			slog.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
