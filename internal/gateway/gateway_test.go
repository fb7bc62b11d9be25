package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/resilience"
	"github.com/MrWong99/loreforge/pkg/backend"
	"github.com/MrWong99/loreforge/pkg/backend/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newGateway(t *testing.T, backends []backend.Backend, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithMetrics(testMetrics(t))}, opts...)
	g, err := New(backends, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

// ── Construction ─────────────────────────────────────────────────────────────

func TestNew_RejectsDuplicateNames(t *testing.T) {
	_, err := New([]backend.Backend{mock.New("direct"), mock.New("direct")}, WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for duplicate backend names")
	}
}

func TestNew_RejectsEmptyName(t *testing.T) {
	_, err := New([]backend.Backend{mock.New("")}, WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for empty backend name")
	}
}

func TestNames_PreservesOrder(t *testing.T) {
	g := newGateway(t, []backend.Backend{mock.New("rest"), mock.New("direct"), mock.New("llm")})
	got := g.Names()
	want := []string{"rest", "direct", "llm"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names = %v, want %v", got, want)
		}
	}
}

// ── Call ─────────────────────────────────────────────────────────────────────

func TestCall_Success(t *testing.T) {
	b := mock.New("direct")
	b.SetResponse("character.create", &backend.Response{Data: []byte(`{"name":"Elara"}`), TokensUsed: 42})
	g := newGateway(t, []backend.Backend{b})

	resp, err := g.Call(context.Background(), "direct", "character.create", map[string]string{"race": "elf"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp.Data) != `{"name":"Elara"}` {
		t.Errorf("Data = %s", resp.Data)
	}
	if resp.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d, want 42", resp.TokensUsed)
	}
	calls := b.Calls()
	if len(calls) != 1 || string(calls[0].Payload) != `{"race":"elf"}` {
		t.Errorf("calls = %+v", calls)
	}
}

func TestCall_UnknownBackendIsUnavailable(t *testing.T) {
	g := newGateway(t, nil)
	_, err := g.Call(context.Background(), "ghost", "npc-generator", nil)
	kind, ok := backend.KindOf(err)
	if !ok || kind != backend.KindUnavailable {
		t.Fatalf("err = %v, want KindUnavailable", err)
	}
}

func TestCall_NormalizesForeignErrors(t *testing.T) {
	b := mock.New("rest")
	b.SetError("npc-generator", errors.New("connection reset"))
	g := newGateway(t, []backend.Backend{b})

	_, err := g.Call(context.Background(), "rest", "npc-generator", nil)
	var te *backend.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %T, want *TransportError", err)
	}
	if te.Kind != backend.KindNetwork || te.Backend != "rest" || te.Operation != "npc-generator" {
		t.Errorf("te = %+v", te)
	}
}

func TestCall_PassesTransportErrorsThrough(t *testing.T) {
	b := mock.New("rest")
	want := backend.NewError(backend.KindRateLimit, "rest", "npc-generator", "slow down", nil)
	b.SetError("npc-generator", want)
	g := newGateway(t, []backend.Backend{b})

	_, err := g.Call(context.Background(), "rest", "npc-generator", nil)
	if !backend.IsRateLimit(err) {
		t.Fatalf("err = %v, want rate limit", err)
	}
}

// blockingBackend waits for its context to end and reports the context error.
type blockingBackend struct{ *mock.Backend }

func (b blockingBackend) Call(ctx context.Context, _ string, _ any) (*backend.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCall_TimeoutIsBounded(t *testing.T) {
	b := blockingBackend{mock.New("slow")}
	g := newGateway(t, []backend.Backend{b}, WithBackendTimeout("slow", 20*time.Millisecond))

	start := time.Now()
	_, err := g.Call(context.Background(), "slow", "op", nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("call took %v, timeout not applied", elapsed)
	}
	kind, ok := backend.KindOf(err)
	if !ok || kind != backend.KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
}

func TestSetBackendTimeouts(t *testing.T) {
	b := blockingBackend{mock.New("slow")}
	g := newGateway(t, []backend.Backend{b}, WithCallTimeout(time.Hour))
	g.SetBackendTimeouts(map[string]time.Duration{"slow": 20 * time.Millisecond, "other": 0})

	_, err := g.Call(context.Background(), "slow", "op", nil)
	if kind, ok := backend.KindOf(err); !ok || kind != backend.KindTimeout {
		t.Fatalf("err = %v, want KindTimeout", err)
	}
	if d := g.timeoutFor("other"); d != time.Hour {
		t.Errorf("timeoutFor(other) = %v, want default", d)
	}
}

func TestCall_RecoversBackendPanic(t *testing.T) {
	b := mock.New("direct")
	b.CallHook = func(context.Context, string) { panic("boom") }
	g := newGateway(t, []backend.Backend{b})

	_, err := g.Call(context.Background(), "direct", "image.portrait", nil)
	kind, ok := backend.KindOf(err)
	if !ok || kind != backend.KindRemote {
		t.Fatalf("err = %v, want KindRemote", err)
	}
}

func TestCall_EmptyDataBecomesObject(t *testing.T) {
	b := mock.New("direct")
	b.SetResponse("voice.generate", &backend.Response{})
	g := newGateway(t, []backend.Backend{b})

	resp, err := g.Call(context.Background(), "direct", "voice.generate", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp.Data) != "{}" {
		t.Errorf("Data = %q, want {}", resp.Data)
	}
}

// ── Health & Init ────────────────────────────────────────────────────────────

func TestCheckHealth(t *testing.T) {
	healthy := mock.New("direct")
	failing := mock.New("rest")
	failing.HealthErr = errors.New("503")
	panicking := mock.New("llm")
	panicking.HealthPanic = "kaboom"
	g := newGateway(t, []backend.Backend{healthy, failing, panicking})

	tests := []struct {
		name string
		want bool
	}{
		{"direct", true},
		{"rest", false},
		{"llm", false},
		{"unknown", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.CheckHealth(context.Background(), tt.name); got != tt.want {
				t.Errorf("CheckHealth(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestInit_WrapsError(t *testing.T) {
	b := mock.New("direct")
	b.InitErr = errors.New("bad credentials")
	g := newGateway(t, []backend.Backend{b})

	err := g.Init(context.Background(), "direct")
	if !errors.Is(err, b.InitErr) {
		t.Fatalf("err = %v, want wrapped InitErr", err)
	}
	if err := g.Init(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

// ── Breakers & Swap ──────────────────────────────────────────────────────────

func TestBreaker_SharedPerName(t *testing.T) {
	g := newGateway(t, []backend.Backend{mock.New("direct")})
	if g.Breaker("direct") != g.Breaker("direct") {
		t.Fatal("Breaker should return the same instance for a name")
	}
	if g.Breaker("direct") == g.Breaker("rest") {
		t.Fatal("different names must not share a breaker")
	}
}

func TestBreaker_IgnoresApplicationErrors(t *testing.T) {
	g := newGateway(t, []backend.Backend{mock.New("rest")},
		WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}))
	cb := g.Breaker("rest")

	remote := backend.NewError(backend.KindRemote, "rest", "op", "invalid prompt", nil)
	_ = cb.Execute(func() error { return remote })
	if cb.State() != resilience.StateClosed {
		t.Fatalf("remote error opened the breaker")
	}

	network := backend.NewError(backend.KindNetwork, "rest", "op", "refused", nil)
	_ = cb.Execute(func() error { return network })
	if cb.State() != resilience.StateOpen {
		t.Fatalf("network error did not open the breaker")
	}
}

func TestSwap_ReplacesBackendsAndResetsBreakers(t *testing.T) {
	g := newGateway(t, []backend.Backend{mock.New("direct"), mock.New("rest")},
		WithCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}))
	cb := g.Breaker("direct")
	_ = cb.Execute(func() error { return errors.New("down") })
	_ = g.Breaker("rest")

	if err := g.Swap([]backend.Backend{mock.New("direct"), mock.New("llm")}); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if cb.State() != resilience.StateClosed {
		t.Error("surviving breaker should be reset")
	}
	if g.Has("rest") {
		t.Error("rest should be gone after swap")
	}
	if !g.Has("llm") {
		t.Error("llm should be present after swap")
	}
	if _, ok := g.BreakerStates()["rest"]; ok {
		t.Error("breaker of removed backend should be dropped")
	}
}
