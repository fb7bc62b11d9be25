// Package gateway is the single outbound call surface for generation
// backends.
//
// A [Gateway] owns the configured [backend.Backend] set and adds the
// concerns every call shares: a bounded per-backend timeout, normalisation
// of every failure into a [*backend.TransportError], metrics, tracing, and
// one circuit breaker per backend that the orchestrator's primary routes
// share. The gateway never retries; retry policy lives with the caller.
//
// The backend set can be replaced at runtime with [Gateway.Swap] when the
// configuration is hot-reloaded.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/resilience"
	"github.com/MrWong99/loreforge/pkg/backend"
)

// Default timeouts.
const (
	DefaultCallTimeout   = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// Option configures a [Gateway].
type Option func(*Gateway)

// WithCallTimeout sets the default per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.callTimeout = d
		}
	}
}

// WithBackendTimeout overrides the call timeout for one backend.
func WithBackendTimeout(name string, d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeouts[name] = d
		}
	}
}

// WithHealthTimeout sets the timeout for a single health probe.
func WithHealthTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.healthTimeout = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithCircuitBreaker sets the template for per-backend breakers. Name and
// IsFailure are filled in by the gateway.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Gateway) { g.breakerCfg = cfg }
}

// Gateway dispatches calls to named backends.
type Gateway struct {
	callTimeout   time.Duration
	healthTimeout time.Duration
	timeouts      map[string]time.Duration
	metrics       *observe.Metrics
	breakerCfg    resilience.CircuitBreakerConfig

	mu       sync.RWMutex
	backends map[string]backend.Backend
	order    []string
	breakers map[string]*resilience.CircuitBreaker
}

// New creates a Gateway over backends. Backend names must be unique and
// non-empty.
func New(backends []backend.Backend, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		callTimeout:   DefaultCallTimeout,
		healthTimeout: DefaultHealthTimeout,
		timeouts:      make(map[string]time.Duration),
		breakers:      make(map[string]*resilience.CircuitBreaker),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if err := g.Swap(backends); err != nil {
		return nil, err
	}
	return g, nil
}

// Swap atomically replaces the backend set. Breakers of backends that
// survive the swap are reset; breakers of removed backends are dropped.
func (g *Gateway) Swap(backends []backend.Backend) error {
	m := make(map[string]backend.Backend, len(backends))
	order := make([]string, 0, len(backends))
	for _, b := range backends {
		if b == nil {
			return fmt.Errorf("gateway: nil backend")
		}
		name := b.Name()
		if name == "" {
			return fmt.Errorf("gateway: backend with empty name")
		}
		if _, dup := m[name]; dup {
			return fmt.Errorf("gateway: duplicate backend name %q", name)
		}
		m[name] = b
		order = append(order, name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.backends = m
	g.order = order
	for name, cb := range g.breakers {
		if _, ok := m[name]; ok {
			cb.Reset()
		} else {
			delete(g.breakers, name)
		}
	}
	return nil
}

// Names returns the backend names in configuration order.
func (g *Gateway) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.order)
}

// Has reports whether a backend named name is configured.
func (g *Gateway) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.backends[name]
	return ok
}

func (g *Gateway) lookup(name string) (backend.Backend, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.backends[name]
	return b, ok
}

// Breaker returns the circuit breaker for the named backend, creating it on
// first use. Its signature matches [resilience.FallbackConfig.Breakers].
func (g *Gateway) Breaker(name string) *resilience.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[name]; ok {
		return cb
	}
	cfg := g.breakerCfg
	cfg.Name = name
	cfg.IsFailure = countsAgainstBreaker
	cb := resilience.NewCircuitBreaker(cfg)
	g.breakers[name] = cb
	return cb
}

// BreakerStates returns the current state of every breaker created so far.
func (g *Gateway) BreakerStates() map[string]resilience.State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]resilience.State, len(g.breakers))
	for name, cb := range g.breakers {
		out[name] = cb.State()
	}
	return out
}

// countsAgainstBreaker reports whether err indicates an unhealthy backend.
// Application-level refusals (remote failure envelopes, rate limiting,
// unsupported operations) do not open the breaker.
func countsAgainstBreaker(err error) bool {
	kind, ok := backend.KindOf(err)
	if !ok {
		return err != nil
	}
	switch kind {
	case backend.KindRemote, backend.KindRateLimit, backend.KindUnsupported:
		return false
	}
	return true
}

func (g *Gateway) timeoutFor(name string) time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if d, ok := g.timeouts[name]; ok {
		return d
	}
	return g.callTimeout
}

// SetBackendTimeouts replaces every per-backend call timeout. Backends
// missing from timeouts fall back to the default call timeout.
func (g *Gateway) SetBackendTimeouts(timeouts map[string]time.Duration) {
	m := make(map[string]time.Duration, len(timeouts))
	for name, d := range timeouts {
		if d > 0 {
			m[name] = d
		}
	}
	g.mu.Lock()
	g.timeouts = m
	g.mu.Unlock()
}

// Call sends exactly one request for operation to the named backend. Every
// error is a [*backend.TransportError]; an unknown backend yields
// [backend.KindUnavailable].
func (g *Gateway) Call(ctx context.Context, name, operation string, payload any) (resp *backend.Response, err error) {
	b, ok := g.lookup(name)
	if !ok {
		return nil, backend.NewError(backend.KindUnavailable, name, operation, "backend not configured", nil)
	}

	ctx, span := observe.StartSpan(ctx, "gateway.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("backend", name),
			attribute.String("operation", operation),
		),
	)
	start := time.Now()
	defer func() {
		var kind string
		if err != nil {
			if k, ok := backend.KindOf(err); ok {
				kind = k.String()
			}
		}
		g.metrics.RecordBackendCall(ctx, name, operation, time.Since(start), err, kind)
		observe.EndSpan(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeoutFor(name))
	defer cancel()

	resp, err = safeCall(ctx, b, operation, payload)
	if err != nil {
		te := backend.Classify(err, name, operation)
		observe.Logger(ctx).Debug("gateway: call failed",
			"backend", name, "operation", operation, "kind", te.Kind.String(), "err", err)
		return nil, te
	}
	if resp == nil {
		return nil, backend.NewError(backend.KindDecode, name, operation, "backend returned no response", nil)
	}
	resp.Data = backend.NormalizeData(resp.Data)
	return resp, nil
}

func safeCall(ctx context.Context, b backend.Backend, operation string, payload any) (resp *backend.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("gateway: backend panicked", "backend", b.Name(), "operation", operation, "panic", r)
			resp = nil
			err = backend.NewError(backend.KindRemote, b.Name(), operation, "backend failed unexpectedly", fmt.Errorf("panic: %v", r))
		}
	}()
	return b.Call(ctx, operation, payload)
}

// Init initialises the named backend.
func (g *Gateway) Init(ctx context.Context, name string) (err error) {
	b, ok := g.lookup(name)
	if !ok {
		return fmt.Errorf("gateway: init %q: backend not configured", name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway: init %q: panic: %v", name, r)
		}
	}()
	if err := b.Init(ctx); err != nil {
		return fmt.Errorf("gateway: init %q: %w", name, err)
	}
	return nil
}

// CheckHealth probes the named backend. It never panics and never returns
// an error: any failure, including an unknown backend, reports false.
func (g *Gateway) CheckHealth(ctx context.Context, name string) (healthy bool) {
	b, ok := g.lookup(name)
	if !ok {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("gateway: health probe panicked", "backend", name, "panic", r)
			healthy = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, g.healthTimeout)
	defer cancel()
	if err := b.CheckHealth(ctx); err != nil {
		slog.Debug("gateway: health probe failed", "backend", name, "err", err)
		return false
	}
	return true
}
