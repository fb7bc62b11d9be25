// Package app wires the loreforge subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context is cancelled,
// ApplyConfig hot-applies a reloaded configuration, and Shutdown releases
// the stores in order.
//
// For testing, inject doubles via functional options (WithCache,
// WithHistory, WithListener, etc.). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/loreforge/internal/api"
	"github.com/MrWong99/loreforge/internal/cache"
	"github.com/MrWong99/loreforge/internal/config"
	"github.com/MrWong99/loreforge/internal/gateway"
	"github.com/MrWong99/loreforge/internal/health"
	"github.com/MrWong99/loreforge/internal/history"
	"github.com/MrWong99/loreforge/internal/lifecycle"
	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/worldgen"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the generation service.
type App struct {
	reg      *config.Registry
	levelVar *slog.LevelVar

	metrics        *observe.Metrics
	metricsHandler http.Handler
	listener       net.Listener

	// Subsystems, initialised in New.
	gw       *gateway.Gateway
	lc       *lifecycle.Manager
	orch     *worldgen.Orchestrator
	cache    cache.Cache
	history  history.Store
	checkers []health.Checker

	// mu guards cfg and serialises ApplyConfig.
	mu  sync.Mutex
	cfg *config.Config

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCache injects a response cache instead of creating one from config.
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithHistory injects a history store instead of creating one from config.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets ApplyConfig change the log level of the process logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithListener makes Run serve on ln instead of listening on the configured
// address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Backends are built through reg. The stores
// are connected synchronously; a Postgres history that cannot be reached or
// migrated fails New. Backend initialisation is deferred to Run or to the
// first generation request.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	backends, err := reg.CreateBackends(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.gw, err = gateway.New(backends,
		gateway.WithMetrics(a.metrics),
		gateway.WithHealthTimeout(cfg.Generation.HealthTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.gw.SetBackendTimeouts(backendTimeouts(cfg))
	a.lc = lifecycle.New(a.gw, lifecycleConfig(cfg), lifecycle.WithMetrics(a.metrics))

	if err := a.initCache(); err != nil {
		return nil, err
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, err
	}

	orchOpts := []worldgen.Option{
		worldgen.WithRoutes(cfg.Routes),
		worldgen.WithMetrics(a.metrics),
		worldgen.WithRetry(cfg.Generation.MaxRetries, cfg.Generation.BaseDelay),
		worldgen.WithParallelEnrichment(cfg.Generation.ParallelEnrichment),
	}
	if a.cache != nil {
		orchOpts = append(orchOpts, worldgen.WithCache(a.cache, cfg.Cache.TTL))
	}
	if a.history != nil {
		orchOpts = append(orchOpts, worldgen.WithRecorder(a.history))
	}
	a.orch = worldgen.New(a.gw, a.lc, orchOpts...)

	a.checkers = append([]health.Checker{health.LifecycleReady(a.lc)}, a.checkers...)

	slog.Info("app initialised",
		"backends", a.gw.Names(),
		"routes", len(cfg.Routes),
		"services", len(cfg.Services),
		"cache", cfg.Cache.Kind,
		"history", cfg.History.Kind,
	)
	return a, nil
}

func (a *App) initCache() error {
	if a.cache != nil {
		return nil
	}
	switch a.cfg.Cache.Kind {
	case config.StoreMemory:
		a.cache = cache.NewMemory(a.cfg.Cache.MaxEntries)
	case config.StoreRedis:
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     a.cfg.Cache.Redis.Addr,
			Password: a.cfg.Cache.Redis.Password,
			DB:       a.cfg.Cache.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("app: cache: %w", err)
		}
		a.cache = rc
		a.closers = append(a.closers, rc.Close)
		a.checkers = append(a.checkers, health.Ping("cache", rc))
	}
	return nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	switch a.cfg.History.Kind {
	case config.StoreMemory:
		a.history = history.NewMemStore(a.cfg.History.Capacity)
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.History.PostgresDSN)
		if err != nil {
			return fmt.Errorf("app: history: create pool: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("app: history: ping: %w", err)
		}
		store := history.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
		a.history = store
		a.checkers = append(a.checkers, health.Ping("history", pool))
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Orchestrator returns the generation orchestrator.
func (a *App) Orchestrator() *worldgen.Orchestrator { return a.orch }

// Lifecycle returns the backend lifecycle manager.
func (a *App) Lifecycle() *lifecycle.Manager { return a.lc }

// Gateway returns the backend gateway.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// History returns the history store, or nil when history is disabled.
func (a *App) History() history.Store { return a.history }

// Handler returns the HTTP handler serving the API, the probes and, when
// configured, /metrics.
func (a *App) Handler() http.Handler {
	probes := health.New(a.checkers...)
	opts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithMount(probes.Register),
	}
	if a.history != nil {
		opts = append(opts, api.WithHistory(a.history))
	}
	if a.metricsHandler != nil {
		opts = append(opts, api.WithMetricsHandler(a.metricsHandler))
	}
	return api.New(a.orch, a.lc, opts...).Handler()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight requests
// within the configured shutdown timeout. Backend initialisation starts in
// the background; a failure leaves the service up and is retried by the
// next generation request.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := a.lc.Initialize(ctx); err != nil {
			slog.Warn("backend initialisation failed; retrying on next request", "err", err)
			return
		}
		slog.Info("backends initialised")
	}()

	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies next in place. Changed backends are rebuilt, swapped
// into the gateway and reinitialised; route, service, tuning and log level
// changes take effect immediately. Settings that need a restart are logged
// and otherwise ignored until then. When the new backends cannot be built
// the old configuration stays in effect and the error is returned.
func (a *App) ApplyConfig(ctx context.Context, next *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, next)
	if d.Empty() {
		return nil
	}

	if len(d.BackendsChanged) > 0 {
		backends, err := a.reg.CreateBackends(next)
		if err != nil {
			return fmt.Errorf("app: apply config: %w", err)
		}
		if err := a.gw.Swap(backends); err != nil {
			return fmt.Errorf("app: apply config: %w", err)
		}
		a.gw.SetBackendTimeouts(backendTimeouts(next))
	}
	if len(d.BackendsChanged) > 0 || d.ServicesChanged || d.GenerationChanged {
		a.lc.Reconfigure(lifecycleConfig(next))
	}
	if d.RoutesChanged {
		a.orch.SetRoutes(next.Routes)
	}
	if d.GenerationChanged {
		g := next.Generation
		a.orch.SetTuning(g.MaxRetries, g.BaseDelay, g.ParallelEnrichment)
		if g.HealthTimeout != a.cfg.Generation.HealthTimeout {
			slog.Warn("generation.health_timeout change takes effect after restart")
		}
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
	}
	if d.RestartRequired {
		slog.Warn("server, cache or history settings changed; restart to apply them")
	}
	a.cfg = next

	slog.Info("config applied",
		"backends_changed", d.BackendsChanged,
		"routes_changed", d.RoutesChanged,
		"services_changed", d.ServicesChanged,
		"generation_changed", d.GenerationChanged,
		"log_level", next.Server.LogLevel,
	)

	if len(d.BackendsChanged) > 0 {
		if err := a.lc.Reinitialize(ctx); err != nil {
			slog.Warn("reinitialisation after reload failed", "err", err)
		}
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the stores in order. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func lifecycleConfig(cfg *config.Config) lifecycle.Config {
	lc := lifecycle.Config{
		Backends:    cfg.BackendNames(),
		Optional:    make(map[string]bool),
		InitTimeout: cfg.Generation.InitTimeout,
	}
	for _, b := range cfg.Backends {
		if b.Optional {
			lc.Optional[b.Name] = true
		}
	}
	for _, s := range cfg.Services {
		lc.Services = append(lc.Services, lifecycle.Service{Key: s.Key, Backend: s.Backend})
	}
	return lc
}

func backendTimeouts(cfg *config.Config) map[string]time.Duration {
	m := make(map[string]time.Duration, len(cfg.Backends))
	for _, b := range cfg.Backends {
		if b.Timeout > 0 {
			m[b.Name] = b.Timeout
		}
	}
	return m
}
