// Package lifecycle tracks whether the generation backends are initialised
// and reports per-service health.
//
// A [Manager] moves through Uninitialized → Initializing → Ready (or
// Failed). Concurrent [Manager.Initialize] calls share one in-flight
// initialisation; calls made once the manager is Ready return immediately.
// Health probing is independent of the lifecycle state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/resilience"
)

// State is the initialisation state of a [Manager].
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	// StateFailed is not terminal: the next Initialize starts a fresh run,
	// as does Reinitialize.
	StateFailed
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultInitTimeout bounds a single initialisation run.
const DefaultInitTimeout = 60 * time.Second

// ErrNoHealthyService is returned by [Manager.CheckServiceHealthWithRetry]
// when every probe round reported all services unhealthy.
var ErrNoHealthyService = errors.New("lifecycle: no healthy service")

// InitError reports the required backend whose initialisation failed.
type InitError struct {
	Backend string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("lifecycle: initialise backend %q: %v", e.Backend, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Gateway is the subset of the gateway the manager drives.
type Gateway interface {
	Init(ctx context.Context, name string) error
	CheckHealth(ctx context.Context, name string) bool
}

// Service maps a reported health key to the backend that serves it.
type Service struct {
	Key     string
	Backend string
}

// Config describes what the manager initialises and probes.
type Config struct {
	// Backends are initialised sequentially in this order.
	Backends []string

	// Optional names backends whose initialisation failure is logged but
	// does not fail the lifecycle.
	Optional map[string]bool

	// Services is the health key set reported by CheckServiceHealth.
	Services []Service

	// InitTimeout bounds one initialisation run. Default: 60s.
	InitTimeout time.Duration
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics sets the metrics sink for health gauges.
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// Manager owns the lifecycle state machine.
type Manager struct {
	gw      Gateway
	metrics *observe.Metrics
	sf      singleflight.Group

	mu          sync.RWMutex
	cfg         Config
	state       State
	gen         uint64
	lastErr     error
	readySince  time.Time
	lastHealth  map[string]bool
	lastChecked time.Time
}

// New creates a Manager in [StateUninitialized].
func New(gw Gateway, cfg Config, opts ...Option) *Manager {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	m := &Manager{gw: gw, cfg: cfg}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns the error of the last failed initialisation, or nil.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// ReadySince returns when the manager last became Ready.
func (m *Manager) ReadySince() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readySince
}

// Services returns the configured health key set.
func (m *Manager) Services() []Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Service, len(m.cfg.Services))
	copy(out, m.cfg.Services)
	return out
}

// Reconfigure replaces the configuration used by the next initialisation
// and health probe. It does not change the state; call [Manager.Reinitialize]
// to apply a new backend set.
func (m *Manager) Reconfigure(cfg Config) {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Initialize brings the manager to [StateReady]. It is a no-op when already
// Ready. Concurrent callers share one run; the run is detached from the
// caller's cancellation so one caller giving up does not abort it for the
// others. A failing required backend moves the manager to [StateFailed] and
// the returned error is an [*InitError].
func (m *Manager) Initialize(ctx context.Context) error {
	if m.State() == StateReady {
		return nil
	}
	ch := m.sf.DoChan("init", func() (any, error) {
		return nil, m.run(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Reinitialize forces the manager back to Uninitialized and initialises
// again. A run already in flight is superseded: its outcome is discarded.
func (m *Manager) Reinitialize(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	m.state = StateUninitialized
	m.lastErr = nil
	m.mu.Unlock()
	m.sf.Forget("init")
	slog.Info("lifecycle: reinitialising")
	return m.Initialize(ctx)
}

func (m *Manager) run(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	m.state = StateInitializing
	gen := m.gen
	cfg := m.cfg
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cfg.InitTimeout)
	defer cancel()

	start := time.Now()
	var initErr error
	for _, name := range cfg.Backends {
		err := m.gw.Init(ctx, name)
		if err == nil {
			continue
		}
		if cfg.Optional[name] {
			slog.Warn("lifecycle: optional backend failed to initialise", "backend", name, "err", err)
			continue
		}
		initErr = &InitError{Backend: name, Err: err}
		break
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		// Superseded by Reinitialize; the newer run owns the state.
		return initErr
	}
	if initErr != nil {
		m.state = StateFailed
		m.lastErr = initErr
		slog.Error("lifecycle: initialisation failed", "err", initErr, "duration", time.Since(start))
		return initErr
	}
	m.state = StateReady
	m.lastErr = nil
	m.readySince = time.Now()
	slog.Info("lifecycle: ready", "backends", len(cfg.Backends), "duration", time.Since(start))
	return nil
}

// CheckServiceHealth probes every backend behind a configured service once,
// concurrently, and returns a fresh map containing every service key. A
// probe failure of any kind reports false. The call does not depend on or
// change the lifecycle state.
func (m *Manager) CheckServiceHealth(ctx context.Context) map[string]bool {
	services := m.Services()
	var backends []string
	for _, svc := range services {
		if !slices.Contains(backends, svc.Backend) {
			backends = append(backends, svc.Backend)
		}
	}
	results := make([]bool, len(backends))

	var g errgroup.Group
	for i, name := range backends {
		g.Go(func() error {
			results[i] = m.gw.CheckHealth(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	health := make(map[string]bool, len(services))
	for _, svc := range services {
		health[svc.Key] = results[slices.Index(backends, svc.Backend)]
	}

	m.mu.Lock()
	m.lastHealth = health
	m.lastChecked = time.Now()
	m.mu.Unlock()
	m.metrics.RecordServiceHealth(ctx, health)
	return health
}

// LastHealth returns a copy of the most recent health map and when it was
// taken. The map is nil before the first probe.
func (m *Manager) LastHealth() (map[string]bool, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastHealth == nil {
		return nil, time.Time{}
	}
	out := make(map[string]bool, len(m.lastHealth))
	for k, v := range m.lastHealth {
		out[k] = v
	}
	return out, m.lastChecked
}

// CheckServiceHealthWithRetry probes up to attempts times with a linearly
// growing delay until at least one service is healthy. It returns the last
// health map, and [ErrNoHealthyService] if no round found a healthy
// service.
func (m *Manager) CheckServiceHealthWithRetry(ctx context.Context, attempts int, delay time.Duration, opts ...resilience.RetryOption) (map[string]bool, error) {
	var last map[string]bool
	opts = append([]resilience.RetryOption{resilience.OnRetry(func(attempt int, d time.Duration, _ error) {
		slog.Info("lifecycle: no healthy service, retrying", "attempt", attempt, "delay", d)
	})}, opts...)
	_, err := resilience.WithLinearRetry(ctx, attempts, delay, func(ctx context.Context) (struct{}, error) {
		last = m.CheckServiceHealth(ctx)
		if Summarize(last).OverallHealth {
			return struct{}{}, nil
		}
		return struct{}{}, ErrNoHealthyService
	}, opts...)
	return last, err
}

// Summary condenses a health map.
type Summary struct {
	OverallHealth    bool `json:"overallHealth"`
	HealthyServices  int  `json:"healthyServices"`
	TotalServices    int  `json:"totalServices"`
	HealthPercentage int  `json:"healthPercentage"`
}

// Summarize computes the summary of health. OverallHealth is true when any
// service is healthy.
func Summarize(health map[string]bool) Summary {
	s := Summary{TotalServices: len(health)}
	for _, ok := range health {
		if ok {
			s.HealthyServices++
		}
	}
	s.OverallHealth = s.HealthyServices > 0
	if s.TotalServices > 0 {
		s.HealthPercentage = int(math.Round(float64(s.HealthyServices) / float64(s.TotalServices) * 100))
	}
	return s
}

// DirectServiceKeys are the health keys served by the direct backend.
var DirectServiceKeys = []string{"characterService", "sceneService", "adventureService", "voiceService", "imageService"}

// RESTServiceKeys are the health keys served by the REST backend.
var RESTServiceKeys = []string{"worldHistoryAPI", "monsterAPI", "missionAPI", "npcAPI", "objectAPI", "locationAPI", "mapAPI"}

// DefaultServices maps the standard health keys onto the given direct and
// REST backend names. An empty name skips that key group.
func DefaultServices(direct, rest string) []Service {
	var out []Service
	if direct != "" {
		for _, k := range DirectServiceKeys {
			out = append(out, Service{Key: k, Backend: direct})
		}
	}
	if rest != "" {
		for _, k := range RESTServiceKeys {
			out = append(out, Service{Key: k, Backend: rest})
		}
	}
	return out
}
