package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/resilience"
)

// fakeGateway records Init calls per backend and answers health probes from
// a table.
type fakeGateway struct {
	mu        sync.Mutex
	inits     map[string]int
	initErr   map[string]error
	healthy   map[string]bool
	panicking map[string]bool
	probes    atomic.Int64

	// gate, when non-nil, blocks every Init until closed.
	gate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		inits:     make(map[string]int),
		initErr:   make(map[string]error),
		healthy:   make(map[string]bool),
		panicking: make(map[string]bool),
	}
}

func (f *fakeGateway) Init(ctx context.Context, name string) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits[name]++
	return f.initErr[name]
}

func (f *fakeGateway) CheckHealth(_ context.Context, name string) bool {
	f.probes.Add(1)
	f.mu.Lock()
	p, ok := f.panicking[name], f.healthy[name]
	f.mu.Unlock()
	if p {
		// Gateway.CheckHealth never panics; model its recovered result.
		return false
	}
	return ok
}

func (f *fakeGateway) initCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits[name]
}

func (f *fakeGateway) setInitErr(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr[name] = err
}

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

func newManager(t *testing.T, gw Gateway, cfg Config) *Manager {
	t.Helper()
	return New(gw, cfg, WithMetrics(testMetrics(t)))
}

var noSleep = resilience.WithSleep(func(context.Context, time.Duration) error { return nil })

// ── Initialize ───────────────────────────────────────────────────────────────

func TestInitialize_ConcurrentCallersShareOneRun(t *testing.T) {
	gw := newFakeGateway()
	gw.gate = make(chan struct{})
	m := newManager(t, gw, Config{Backends: []string{"direct", "rest"}})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Initialize(context.Background())
		}()
	}

	// Let the goroutines pile up on the in-flight run before releasing it.
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateInitializing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(gw.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if m.State() != StateReady {
		t.Fatalf("state = %v, want ready", m.State())
	}
	for _, name := range []string{"direct", "rest"} {
		if got := gw.initCount(name); got != 1 {
			t.Errorf("Init(%q) called %d times, want 1", name, got)
		}
	}
}

func TestInitialize_NoopWhenReady(t *testing.T) {
	gw := newFakeGateway()
	m := newManager(t, gw, Config{Backends: []string{"direct"}})

	for range 3 {
		if err := m.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	if got := gw.initCount("direct"); got != 1 {
		t.Errorf("Init called %d times, want 1", got)
	}
	if m.ReadySince().IsZero() {
		t.Error("ReadySince not set")
	}
}

func TestInitialize_RequiredFailureThenReinitialize(t *testing.T) {
	gw := newFakeGateway()
	cause := errors.New("connection refused")
	gw.setInitErr("rest", cause)
	m := newManager(t, gw, Config{Backends: []string{"direct", "rest", "llm"}})

	err := m.Initialize(context.Background())
	var ie *InitError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *InitError", err)
	}
	if ie.Backend != "rest" || !errors.Is(err, cause) {
		t.Errorf("InitError = %+v", ie)
	}
	if m.State() != StateFailed {
		t.Fatalf("state = %v, want failed", m.State())
	}
	if gw.initCount("llm") != 0 {
		t.Error("backends after the failing one must not be initialised")
	}
	if !errors.Is(m.Err(), cause) {
		t.Errorf("Err() = %v", m.Err())
	}

	gw.setInitErr("rest", nil)
	if err := m.Reinitialize(context.Background()); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("state = %v, want ready", m.State())
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v, want nil after recovery", m.Err())
	}
}

func TestInitialize_RetriesFromFailed(t *testing.T) {
	gw := newFakeGateway()
	gw.setInitErr("direct", errors.New("503"))
	m := newManager(t, gw, Config{Backends: []string{"direct"}})

	if err := m.Initialize(context.Background()); err == nil {
		t.Fatal("expected first Initialize to fail")
	}
	gw.setInitErr("direct", nil)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize after failure: %v", err)
	}
	if m.State() != StateReady || gw.initCount("direct") != 2 {
		t.Errorf("state = %v, inits = %d", m.State(), gw.initCount("direct"))
	}
}

func TestInitialize_OptionalFailureTolerated(t *testing.T) {
	gw := newFakeGateway()
	gw.setInitErr("elevenlabs", errors.New("401"))
	m := newManager(t, gw, Config{
		Backends: []string{"direct", "elevenlabs"},
		Optional: map[string]bool{"elevenlabs": true},
	})

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("state = %v, want ready", m.State())
	}
}

func TestInitialize_CallerCancellationDoesNotAbortRun(t *testing.T) {
	gw := newFakeGateway()
	gw.gate = make(chan struct{})
	m := newManager(t, gw, Config{Backends: []string{"direct"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Initialize(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateInitializing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(gw.gate)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := gw.initCount("direct"); got != 1 {
		t.Errorf("Init called %d times, want 1 (shared run)", got)
	}
}

func TestReinitialize_RunsInitAgain(t *testing.T) {
	gw := newFakeGateway()
	m := newManager(t, gw, Config{Backends: []string{"direct"}})
	_ = m.Initialize(context.Background())
	if err := m.Reinitialize(context.Background()); err != nil {
		t.Fatalf("Reinitialize: %v", err)
	}
	if got := gw.initCount("direct"); got != 2 {
		t.Errorf("Init called %d times, want 2", got)
	}
}

func TestReconfigure_AppliesOnReinitialize(t *testing.T) {
	gw := newFakeGateway()
	m := newManager(t, gw, Config{Backends: []string{"direct"}})
	_ = m.Initialize(context.Background())

	m.Reconfigure(Config{Backends: []string{"rest"}})
	if m.State() != StateReady {
		t.Fatal("Reconfigure must not change state")
	}
	_ = m.Reinitialize(context.Background())
	if gw.initCount("rest") != 1 {
		t.Errorf("rest not initialised after reconfigure")
	}
}

// ── Health ───────────────────────────────────────────────────────────────────

func TestCheckServiceHealth_FullKeySet(t *testing.T) {
	gw := newFakeGateway()
	gw.healthy["direct"] = true
	gw.panicking["rest"] = true
	m := newManager(t, gw, Config{Services: DefaultServices("direct", "rest")})

	health := m.CheckServiceHealth(context.Background())
	want := len(DirectServiceKeys) + len(RESTServiceKeys)
	if len(health) != want {
		t.Fatalf("len(health) = %d, want %d", len(health), want)
	}
	for _, k := range DirectServiceKeys {
		if !health[k] {
			t.Errorf("%s = false, want true", k)
		}
	}
	for _, k := range RESTServiceKeys {
		v, ok := health[k]
		if !ok || v {
			t.Errorf("%s = %v (present %v), want false", k, v, ok)
		}
	}
	if n := gw.probes.Load(); n != 2 {
		t.Errorf("probes = %d, want one per backend", n)
	}
	if m.State() != StateUninitialized {
		t.Errorf("health probe changed state to %v", m.State())
	}

	last, at := m.LastHealth()
	if len(last) != want || at.IsZero() {
		t.Errorf("LastHealth = %v at %v", last, at)
	}
}

func TestCheckServiceHealth_ThrowingProbesReportFalse(t *testing.T) {
	gw := newFakeGateway()
	services := []Service{
		{Key: "characterService", Backend: "b1"},
		{Key: "sceneService", Backend: "b2"},
		{Key: "adventureService", Backend: "b3"},
		{Key: "voiceService", Backend: "b4"},
		{Key: "imageService", Backend: "b5"},
	}
	gw.healthy["b1"] = true
	gw.healthy["b4"] = true
	for _, b := range []string{"b2", "b3", "b5"} {
		gw.panicking[b] = true
	}
	m := newManager(t, gw, Config{Services: services})

	health := m.CheckServiceHealth(context.Background())
	if len(health) != 5 {
		t.Fatalf("len(health) = %d, want 5", len(health))
	}
	down := 0
	for _, ok := range health {
		if !ok {
			down++
		}
	}
	if down != 3 {
		t.Errorf("%d services down, want 3: %v", down, health)
	}
	if s := Summarize(health); !s.OverallHealth || s.HealthPercentage != 40 {
		t.Errorf("Summary = %+v", s)
	}
}

func TestCheckServiceHealth_FreshMapPerCall(t *testing.T) {
	gw := newFakeGateway()
	m := newManager(t, gw, Config{Services: DefaultServices("direct", "")})

	a := m.CheckServiceHealth(context.Background())
	a["characterService"] = true
	b := m.CheckServiceHealth(context.Background())
	if b["characterService"] {
		t.Fatal("mutating one result leaked into the next")
	}
}

func TestCheckServiceHealthWithRetry_SucceedsWhenAnyHealthy(t *testing.T) {
	gw := newFakeGateway()
	gw.healthy["rest"] = true
	m := newManager(t, gw, Config{Services: DefaultServices("direct", "rest")})

	health, err := m.CheckServiceHealthWithRetry(context.Background(), 3, time.Millisecond, noSleep)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if !health["npcAPI"] {
		t.Error("npcAPI should be healthy")
	}
	if gw.probes.Load() != 2 {
		t.Errorf("probes = %d, want one round", gw.probes.Load())
	}
}

func TestCheckServiceHealthWithRetry_ExhaustsAttempts(t *testing.T) {
	gw := newFakeGateway()
	m := newManager(t, gw, Config{Services: DefaultServices("direct", "")})

	health, err := m.CheckServiceHealthWithRetry(context.Background(), 3, time.Millisecond, noSleep)
	if !errors.Is(err, ErrNoHealthyService) {
		t.Fatalf("err = %v, want ErrNoHealthyService", err)
	}
	if len(health) != len(DirectServiceKeys) {
		t.Errorf("last health map has %d keys", len(health))
	}
	if got := gw.probes.Load(); got != 3 {
		t.Errorf("probes = %d, want 3 rounds", got)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		health map[string]bool
		want   Summary
	}{
		{"empty", map[string]bool{}, Summary{}},
		{"all down", map[string]bool{"a": false, "b": false}, Summary{TotalServices: 2}},
		{"one of three", map[string]bool{"a": true, "b": false, "c": false}, Summary{true, 1, 3, 33}},
		{"two of three", map[string]bool{"a": true, "b": true, "c": false}, Summary{true, 2, 3, 67}},
		{"all up", map[string]bool{"a": true}, Summary{true, 1, 1, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.health); got != tt.want {
				t.Errorf("Summarize = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestState_String(t *testing.T) {
	if StateReady.String() != "ready" || StateFailed.String() != "failed" || State(42).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}
