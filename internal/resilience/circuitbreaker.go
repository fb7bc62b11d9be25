// Package resilience provides the failure-handling primitives used around
// remote generation calls: a three-state circuit breaker, an ordered
// fallback group over several backends, and a retry helper that only
// retries rate-limited calls.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker
// rejects a call without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive counted failures that opens
	// a closed breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before admitting
	// probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls admitted in the half-open
	// state, and the number of successes required to close. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. When
	// nil every non-nil error counts. Errors that do not count are still
	// returned to the caller.
	IsFailure func(error) bool

	// OnStateChange, if set, is called (without the breaker lock held)
	// after every transition.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probes       int
	probeSuccess int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     isFailure,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
		state:         StateClosed,
	}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits the call, otherwise it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return err
	}

	callErr := fn()

	cb.mu.Lock()
	var t stateTransition
	if callErr != nil && cb.isFailure(callErr) {
		t = cb.onFailure(probe)
	} else {
		t = cb.onSuccess(probe)
	}
	cb.mu.Unlock()
	cb.notify(t)
	return callErr
}

type stateTransition struct {
	from, to State
}

func (cb *CircuitBreaker) admit() (probe bool, t stateTransition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, t, ErrCircuitOpen
		}
		t = cb.setState(StateHalfOpen)
		cb.probes, cb.probeSuccess = 0, 0
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			return false, t, ErrCircuitOpen
		}
		cb.probes++
		return true, t, nil
	}
	return false, t, nil
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(probe bool) stateTransition {
	cb.openedAt = cb.now()
	if probe || cb.state == StateHalfOpen {
		cb.failures = cb.maxFailures
		return cb.setState(StateOpen)
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		return cb.setState(StateOpen)
	}
	return stateTransition{}
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(probe bool) stateTransition {
	if !probe {
		cb.failures = 0
		return stateTransition{}
	}
	if cb.state != StateHalfOpen {
		return stateTransition{}
	}
	cb.probeSuccess++
	if cb.probeSuccess >= cb.halfOpenMax {
		cb.failures, cb.probes, cb.probeSuccess = 0, 0, 0
		return cb.setState(StateClosed)
	}
	return stateTransition{}
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) stateTransition {
	from := cb.state
	cb.state = to
	return stateTransition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t stateTransition) {
	if t.from == t.to {
		return
	}
	switch t.to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.name, "from", t.from.String())
	default:
		slog.Info("circuit breaker state changed", "name", cb.name, "from", t.from.String(), "to", t.to.String())
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setState(StateClosed)
	cb.failures, cb.probes, cb.probeSuccess = 0, 0, 0
	cb.mu.Unlock()
	cb.notify(t)
}
