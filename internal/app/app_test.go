package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/loreforge/internal/app"
	"github.com/MrWong99/loreforge/internal/config"
	"github.com/MrWong99/loreforge/internal/history"
	"github.com/MrWong99/loreforge/internal/lifecycle"
	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/pkg/backend"
	"github.com/MrWong99/loreforge/pkg/backend/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const baseYAML = `
backends:
  - name: forge
    kind: direct
    base_url: http://forge.invalid
  - name: catalogue
    kind: rest
    base_url: http://catalogue.invalid
cache:
  kind: memory
`

// mocks builds mock backends for the direct and rest kinds and remembers the
// most recent instance per name.
type mocks struct {
	mu      sync.Mutex
	byName  map[string]*mock.Backend
	created int
	fail    map[string]bool
}

func newMocks() *mocks {
	return &mocks{byName: make(map[string]*mock.Backend), fail: make(map[string]bool)}
}

func (m *mocks) factory(entry config.BackendEntry) (backend.Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[entry.Name] {
		return nil, errors.New("no credentials")
	}
	b := mock.New(entry.Name)
	m.byName[entry.Name] = b
	m.created++
	return b, nil
}

func (m *mocks) get(name string) *mock.Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byName[name]
}

func (m *mocks) registry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterBackend(config.KindDirect, m.factory)
	reg.RegisterBackend(config.KindREST, m.factory)
	return reg
}

func load(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
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

func newApp(t *testing.T, cfg *config.Config, m *mocks, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, m.registry(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func serve(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return rec.Code, out
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_WiresSubsystems(t *testing.T) {
	t.Parallel()
	m := newMocks()
	a := newApp(t, load(t, baseYAML), m)

	if got := a.Gateway().Names(); len(got) != 2 || got[0] != "forge" || got[1] != "catalogue" {
		t.Errorf("gateway backends = %v", got)
	}
	if n := len(a.Lifecycle().Services()); n != 12 {
		t.Errorf("services = %d, want 12", n)
	}
	if a.Lifecycle().State() != lifecycle.StateUninitialized {
		t.Errorf("state = %v, New must not initialise backends", a.Lifecycle().State())
	}
	if _, ok := a.History().(*history.MemStore); !ok {
		t.Errorf("history = %T, want *history.MemStore", a.History())
	}
	if rt := a.Orchestrator().Routes()["npc"]; rt.Backends[0] != "catalogue" {
		t.Errorf("npc route = %+v", rt)
	}
	if m.get("forge").InitCalls() != 0 {
		t.Error("backend initialised during New")
	}
}

func TestNew_UnregisteredKind(t *testing.T) {
	t.Parallel()
	cfg := load(t, baseYAML)
	cfg.Backends = append(cfg.Backends, config.BackendEntry{Name: "scribe", Kind: "scribe"})

	_, err := app.New(context.Background(), cfg, newMocks().registry(), app.WithMetrics(testMetrics(t)))
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("err = %v, want ErrBackendNotRegistered", err)
	}
}

func TestNew_HistoryDisabled(t *testing.T) {
	t.Parallel()
	a := newApp(t, load(t, baseYAML+"history:\n  kind: none\n"), newMocks())
	if a.History() != nil {
		t.Fatalf("history = %T, want nil", a.History())
	}
	code, _ := serve(t, a.Handler(), "GET", "/ai/generations", "")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestNew_InjectedHistory(t *testing.T) {
	t.Parallel()
	store := history.NewMemStore(5)
	a := newApp(t, load(t, baseYAML), newMocks(), app.WithHistory(store))
	if a.History() != store {
		t.Error("injected history store not used")
	}
}

// ── Handler ──────────────────────────────────────────────────────────────────

func TestHandler_GenerateRecordsHistory(t *testing.T) {
	t.Parallel()
	m := newMocks()
	a := newApp(t, load(t, baseYAML), m)
	m.get("catalogue").SetResult("npc-generator", `{"name":"Elara"}`)

	code, body := serve(t, a.Handler(), "POST", "/generate-npc", `{"race":"elf","occupation":"smith"}`)
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	entries, err := a.History().Recent(context.Background(), history.Query{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("history = %v, %v", entries, err)
	}
	if m.get("forge").InitCalls() != 1 || m.get("catalogue").InitCalls() != 1 {
		t.Error("backends not initialised by the first request")
	}
}

func TestHandler_ProbesAndMetrics(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"scraped":true}`)
	})
	a := newApp(t, load(t, baseYAML), newMocks(), app.WithMetricsHandler(metrics))
	h := a.Handler()

	if code, _ := serve(t, h, "GET", "/healthz", ""); code != http.StatusOK {
		t.Errorf("/healthz status = %d", code)
	}
	if code, _ := serve(t, h, "GET", "/readyz", ""); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before init = %d, want 503", code)
	}
	if err := a.Lifecycle().Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if code, _ := serve(t, h, "GET", "/readyz", ""); code != http.StatusOK {
		t.Errorf("/readyz after init = %d, want 200", code)
	}
	if code, body := serve(t, h, "GET", "/metrics", ""); code != http.StatusOK || body["scraped"] != true {
		t.Errorf("/metrics = %d %v", code, body)
	}
}

func TestHandler_RedisCacheReadiness(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := load(t, strings.Replace(baseYAML, "kind: memory", "kind: redis\n  redis:\n    addr: "+mr.Addr(), 1))
	a := newApp(t, cfg, newMocks())
	if err := a.Lifecycle().Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	code, body := serve(t, a.Handler(), "GET", "/readyz", "")
	checks, _ := body["checks"].(map[string]any)
	if code != http.StatusOK || checks["cache"] != "ok" {
		t.Fatalf("status = %d, body = %v", code, body)
	}

	mr.Close()
	if code, _ := serve(t, a.Handler(), "GET", "/readyz", ""); code != http.StatusServiceUnavailable {
		t.Errorf("status with redis down = %d, want 503", code)
	}
}

// ── ApplyConfig ──────────────────────────────────────────────────────────────

func TestApplyConfig_NoChange(t *testing.T) {
	t.Parallel()
	m := newMocks()
	a := newApp(t, load(t, baseYAML), m)
	if err := a.ApplyConfig(context.Background(), load(t, baseYAML)); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if m.created != 2 {
		t.Errorf("backends created = %d, want 2", m.created)
	}
}

func TestApplyConfig_RoutesTuningAndLogLevel(t *testing.T) {
	t.Parallel()
	lv := new(slog.LevelVar)
	a := newApp(t, load(t, baseYAML), newMocks(), app.WithLevelVar(lv))

	next := load(t, baseYAML+`
server:
  log_level: debug
generation:
  max_retries: 5
routes:
  npc:
    operation: npc.custom
    backends: [forge, catalogue]
`)
	if err := a.ApplyConfig(context.Background(), next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
	rt := a.Orchestrator().Routes()["npc"]
	if rt.Operation != "npc.custom" || len(rt.Backends) != 2 || rt.Backends[0] != "forge" {
		t.Errorf("npc route = %+v", rt)
	}
	if a.Config() != next {
		t.Error("Config() does not return the applied config")
	}
}

func TestApplyConfig_BackendsRebuiltAndReinitialised(t *testing.T) {
	t.Parallel()
	m := newMocks()
	a := newApp(t, load(t, baseYAML), m)
	if err := a.Lifecycle().Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	oldForge := m.get("forge")

	next := load(t, strings.Replace(baseYAML, "cache:", `  - name: archive
    kind: rest
    base_url: http://archive.invalid
    timeout: 2s
cache:`, 1))
	if err := a.ApplyConfig(context.Background(), next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	if !a.Gateway().Has("archive") {
		t.Error("archive backend not swapped in")
	}
	if m.get("forge") == oldForge {
		t.Error("forge backend not rebuilt")
	}
	if a.Lifecycle().State() != lifecycle.StateReady {
		t.Errorf("state = %v, want ready", a.Lifecycle().State())
	}
	if m.get("archive").InitCalls() != 1 {
		t.Errorf("archive init calls = %d, want 1", m.get("archive").InitCalls())
	}
	found := false
	for _, s := range a.Lifecycle().Services() {
		if s.Key == "archive" {
			found = true
		}
	}
	if !found {
		t.Error("archive health key missing after reload")
	}
}

func TestApplyConfig_FactoryErrorKeepsOldConfig(t *testing.T) {
	t.Parallel()
	m := newMocks()
	old := load(t, baseYAML)
	a := newApp(t, old, m)

	m.mu.Lock()
	m.fail["forge"] = true
	m.mu.Unlock()
	next := load(t, strings.Replace(baseYAML, "http://forge.invalid", "http://forge2.invalid", 1))

	if err := a.ApplyConfig(context.Background(), next); err == nil {
		t.Fatal("expected error")
	}
	if a.Config() != old {
		t.Error("config replaced despite failed reload")
	}
	if !a.Gateway().Has("forge") {
		t.Error("old backends dropped")
	}
}

// ── Run / Shutdown ───────────────────────────────────────────────────────────

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := newMocks()
	a := newApp(t, load(t, baseYAML), m, app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	a := newApp(t, load(t, baseYAML), newMocks())
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestShutdown_DeadlineSkipsClosers(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := load(t, strings.Replace(baseYAML, "kind: memory", "kind: redis\n  redis:\n    addr: "+mr.Addr(), 1))
	a := newApp(t, cfg, newMocks())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
