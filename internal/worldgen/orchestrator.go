// Package worldgen turns generation requests into world-builder content.
//
// The [Orchestrator] validates a request, makes sure the backends are
// initialised, calls the primary backend for the content type through a
// fallback group with rate-limit retries, optionally enriches the result
// with a portrait, scene image or voice, and shapes the loose backend JSON
// into a typed asset. Every public generation method returns a
// [Response]; failures, including panics, are reported in the response and
// never escape as errors.
package worldgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/loreforge/internal/cache"
	"github.com/MrWong99/loreforge/internal/history"
	"github.com/MrWong99/loreforge/internal/lifecycle"
	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/resilience"
	"github.com/MrWong99/loreforge/pkg/backend"
)

// ErrNoRoute is returned when a route has no configuration.
var ErrNoRoute = errors.New("worldgen: route not configured")

// Gateway is the subset of the gateway the orchestrator calls.
type Gateway interface {
	Call(ctx context.Context, name, operation string, payload any) (*backend.Response, error)
	Breaker(name string) *resilience.CircuitBreaker
}

// Lifecycle brings the backends to the ready state.
type Lifecycle interface {
	Initialize(ctx context.Context) error
}

// Recorder receives one entry per finished generation.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithRoutes sets the route table. Defaults to DefaultRoutes("direct", "rest").
func WithRoutes(routes map[string]Route) Option {
	return func(o *Orchestrator) { o.routes = maps.Clone(routes) }
}

// WithCache caches primary responses for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.cache = c
		o.cacheTTL = ttl
	}
}

// WithRecorder records every finished generation.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRetry sets the attempt budget and base delay for rate-limited
// primary calls.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.maxAttempts = maxAttempts
		o.baseDelay = baseDelay
	}
}

// WithRetryOptions passes extra options to every retry loop.
func WithRetryOptions(opts ...resilience.RetryOption) Option {
	return func(o *Orchestrator) { o.retryOpts = append(o.retryOpts, opts...) }
}

// WithParallelEnrichment issues the enrichment calls of one generation
// concurrently instead of image first, then voice.
func WithParallelEnrichment(enabled bool) Option {
	return func(o *Orchestrator) { o.parallel = enabled }
}

// WithClock replaces the time source used for asset timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator generates world-builder content. It is safe for concurrent
// use.
type Orchestrator struct {
	gw        Gateway
	lc        Lifecycle
	metrics   *observe.Metrics
	cache     cache.Cache
	cacheTTL  time.Duration
	recorder  Recorder
	retryOpts []resilience.RetryOption
	now       func() time.Time
	newID     func(prefix string) string

	mu          sync.RWMutex
	routes      map[string]Route
	maxAttempts int
	baseDelay   time.Duration
	parallel    bool
}

// New creates an Orchestrator calling gw. lc may be nil when the backends
// need no initialisation.
func New(gw Gateway, lc Lifecycle, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gw:          gw,
		lc:          lc,
		maxAttempts: resilience.DefaultMaxAttempts,
		baseDelay:   resilience.DefaultBaseDelay,
		now:         time.Now,
		newID:       func(prefix string) string { return prefix + "_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.routes == nil {
		o.routes = DefaultRoutes("direct", "rest")
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// SetRoutes atomically replaces the route table.
func (o *Orchestrator) SetRoutes(routes map[string]Route) {
	o.mu.Lock()
	o.routes = maps.Clone(routes)
	o.mu.Unlock()
}

// Routes returns a copy of the route table.
func (o *Orchestrator) Routes() map[string]Route {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.routes)
}

// SetTuning replaces the retry budget and the enrichment mode used by
// generations started afterwards.
func (o *Orchestrator) SetTuning(maxAttempts int, baseDelay time.Duration, parallel bool) {
	o.mu.Lock()
	o.maxAttempts, o.baseDelay, o.parallel = maxAttempts, baseDelay, parallel
	o.mu.Unlock()
}

func (o *Orchestrator) tuning() (maxAttempts int, baseDelay time.Duration, parallel bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.maxAttempts, o.baseDelay, o.parallel
}

func (o *Orchestrator) route(name string) (Route, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.routes[name]
	return rt, ok && len(rt.Backends) > 0
}

// ── Execution ────────────────────────────────────────────────────────────────

// asset is implemented by every generated type.
type asset interface {
	assetID() string
	assetTitle() string
}

// execute runs one generation. It validates and defaults req, initialises
// the lifecycle and calls produce. Any error or panic becomes a failed
// response.
func execute[T any](ctx context.Context, o *Orchestrator, req Request, produce func(ctx context.Context) (*T, *ResponseMetadata, error)) (resp Response[T]) {
	kind := req.Kind()
	ctx, span := observe.StartSpan(ctx, "worldgen."+string(kind),
		trace.WithAttributes(attribute.String("content_type", string(kind))))
	start := time.Now()

	var (
		data *T
		meta *ResponseMetadata
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("worldgen: generation panicked", "kind", kind, "panic", r)
			data, err = nil, fmt.Errorf("worldgen: panic: %v", r)
		}
		elapsed := time.Since(start)
		if err != nil {
			resp = Response[T]{Success: false, Error: publicMessage(kind, err)}
			observe.Logger(ctx).Warn("worldgen: generation failed", "kind", kind, "err", err, "duration", elapsed)
		} else {
			if meta.ProcessingTime == 0 {
				meta.ProcessingTime = elapsed.Milliseconds()
			}
			resp = Response[T]{Success: true, Data: data, Metadata: meta}
		}
		o.metrics.RecordGeneration(ctx, string(kind), elapsed, err)
		record(ctx, o, kind, resp, elapsed)
		observe.EndSpan(span, err)
	}()

	if err = prepare(req); err != nil {
		return
	}
	if o.lc != nil {
		if err = o.lc.Initialize(ctx); err != nil {
			return
		}
	}
	data, meta, err = produce(ctx)
	if err == nil && data == nil {
		err = errors.New("worldgen: generator returned no data")
	}
	if err == nil && meta == nil {
		meta = &ResponseMetadata{}
	}
	return
}

// record hands the outcome to the recorder. Recording failures are logged
// and never affect the response.
func record[T any](ctx context.Context, o *Orchestrator, kind ContentType, resp Response[T], elapsed time.Duration) {
	if o.recorder == nil {
		return
	}
	e := history.Entry{
		Kind:      string(kind),
		Success:   resp.Success,
		Error:     resp.Error,
		Duration:  elapsed,
		CreatedAt: o.now(),
	}
	if resp.Metadata != nil {
		e.TokensUsed = resp.Metadata.TokensUsed
		e.CacheHit = resp.Metadata.CacheHit
	}
	if resp.Data != nil {
		if a, ok := any(resp.Data).(asset); ok {
			e.AssetID, e.Title = a.assetID(), a.assetTitle()
		}
		if b, err := json.Marshal(resp.Data); err == nil {
			e.Data = b
		}
	}
	if err := o.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		observe.Logger(ctx).Warn("worldgen: recording generation failed", "kind", kind, "err", err)
	}
}

// recordRejected records a request that failed normalisation.
func (o *Orchestrator) recordRejected(ctx context.Context, kind ContentType, err error) {
	o.metrics.RecordGeneration(ctx, string(kind), 0, err)
	record(ctx, o, kind, Response[any]{Success: false, Error: err.Error()}, 0)
}

// publicMessage renders err for callers outside the service. It never
// contains backend names or remote response bodies other than a remote
// failure message.
func publicMessage(kind ContentType, err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var ie *lifecycle.InitError
	if errors.As(err, &ie) {
		return "generation services failed to initialise"
	}

	prefix := fmt.Sprintf("%s generation failed: ", kind)
	var te *backend.TransportError
	switch {
	case errors.As(err, &te):
		return prefix + te.PublicMessage()
	case errors.Is(err, resilience.ErrCircuitOpen):
		return prefix + "generation service unavailable"
	case errors.Is(err, ErrNoRoute):
		return prefix + "no generation backend configured"
	case errors.Is(err, context.DeadlineExceeded):
		return prefix + "timed out"
	case errors.Is(err, context.Canceled):
		return prefix + "request cancelled"
	}
	return prefix + "unexpected error"
}

// ── Backend calls ────────────────────────────────────────────────────────────

// cachedResponse is the cache encoding of a backend response.
type cachedResponse struct {
	Data             json.RawMessage `json:"data"`
	TokensUsed       int             `json:"tokensUsed"`
	ProcessingTimeMS int64           `json:"processingTimeMs"`
}

// result is a successful primary call.
type result struct {
	data     gjson.Result
	resp     *backend.Response
	cacheHit bool
}

func (r *result) metadata() *ResponseMetadata {
	return &ResponseMetadata{
		TokensUsed:     r.resp.TokensUsed,
		ProcessingTime: r.resp.ProcessingTimeMS,
		CacheHit:       r.cacheHit || r.resp.CacheHit,
	}
}

// primary calls the route for a content type with caching and rate-limit
// retries.
func (o *Orchestrator) primary(ctx context.Context, routeName string, payload any) (*result, error) {
	rt, ok := o.route(routeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoRoute, routeName)
	}

	var key string
	if o.cache != nil {
		key = o.cacheKey(routeName, rt, payload)
		if resp, ok := o.cacheGet(ctx, key); ok {
			return &result{data: gjson.ParseBytes(resp.Data), resp: resp, cacheHit: true}, nil
		}
	}

	resp, err := o.dispatch(ctx, routeName, rt, payload, true)
	if err != nil {
		return nil, err
	}
	if o.cache != nil {
		o.cacheSet(ctx, key, resp)
	}
	return &result{data: gjson.ParseBytes(resp.Data), resp: resp}, nil
}

// dispatch tries the backends of rt in order. Primary calls share the
// gateway's per-backend breakers and get the rate-limit retry budget.
// Enrichment calls run once per backend behind breakers scoped to this
// dispatch, so their failures never trip a breaker a primary route uses.
func (o *Orchestrator) dispatch(ctx context.Context, routeName string, rt Route, payload any, primary bool) (*backend.Response, error) {
	var fcfg resilience.FallbackConfig
	if primary {
		fcfg.Breakers = o.gw.Breaker
	}
	fg := resilience.NewFallbackGroup(rt.Backends[0], rt.Backends[0], fcfg)
	for _, name := range rt.Backends[1:] {
		fg.AddFallback(name, name)
	}
	return resilience.ExecuteWithResult(fg, func(name string) (*backend.Response, error) {
		if !primary {
			return o.gw.Call(ctx, name, rt.Operation, payload)
		}
		opts := append([]resilience.RetryOption{
			resilience.OnRetry(func(attempt int, delay time.Duration, err error) {
				o.metrics.RecordRetry(ctx, routeName)
				observe.Logger(ctx).Info("worldgen: rate limited, retrying",
					"route", routeName, "backend", name, "attempt", attempt, "delay", delay)
			}),
		}, o.retryOpts...)
		maxAttempts, baseDelay, _ := o.tuning()
		return resilience.WithRetry(ctx, maxAttempts, baseDelay, func(ctx context.Context) (*backend.Response, error) {
			return o.gw.Call(ctx, name, rt.Operation, payload)
		}, opts...)
	})
}

func (o *Orchestrator) cacheKey(routeName string, rt Route, payload any) string {
	raw, _ := json.Marshal(payload)
	backends, _ := json.Marshal(rt.Backends)
	return cache.Key(routeName, rt.Operation, string(backends), string(raw))
}

func (o *Orchestrator) cacheGet(ctx context.Context, key string) (*backend.Response, bool) {
	raw, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		observe.Logger(ctx).Warn("worldgen: cache lookup failed", "err", err)
		return nil, false
	}
	o.metrics.RecordCacheLookup(ctx, ok)
	if !ok {
		return nil, false
	}
	var c cachedResponse
	if err := json.Unmarshal(raw, &c); err != nil {
		observe.Logger(ctx).Warn("worldgen: discarding corrupt cache entry", "err", err)
		return nil, false
	}
	return &backend.Response{
		Data:             backend.NormalizeData(c.Data),
		TokensUsed:       c.TokensUsed,
		ProcessingTimeMS: c.ProcessingTimeMS,
	}, true
}

func (o *Orchestrator) cacheSet(ctx context.Context, key string, resp *backend.Response) {
	raw, err := json.Marshal(cachedResponse{
		Data:             resp.Data,
		TokensUsed:       resp.TokensUsed,
		ProcessingTimeMS: resp.ProcessingTimeMS,
	})
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, key, raw, o.cacheTTL); err != nil {
		observe.Logger(ctx).Warn("worldgen: cache store failed", "err", err)
	}
}

// ── Enrichment ───────────────────────────────────────────────────────────────

// enrichment is one optional derived asset. On success the string at field
// of the backend data is written to dst.
type enrichment struct {
	asset   string
	route   string
	payload any
	field   string
	dst     *string
}

// enrich runs jobs, sequentially in order or concurrently. A failed job is
// logged and counted and leaves its destination untouched.
func (o *Orchestrator) enrich(ctx context.Context, kind ContentType, jobs ...enrichment) {
	if len(jobs) == 0 {
		return
	}
	if _, _, parallel := o.tuning(); !parallel {
		for _, j := range jobs {
			o.runEnrichment(ctx, kind, j)
		}
		return
	}
	var g errgroup.Group
	for _, j := range jobs {
		g.Go(func() error {
			o.runEnrichment(ctx, kind, j)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runEnrichment(ctx context.Context, kind ContentType, j enrichment) {
	fail := func(err error) {
		o.metrics.RecordEnrichmentFailure(ctx, string(kind), j.asset)
		observe.Logger(ctx).Warn("worldgen: enrichment failed", "kind", kind, "asset", j.asset, "err", err)
	}
	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("panic: %v", r))
		}
	}()

	rt, ok := o.route(j.route)
	if !ok {
		fail(fmt.Errorf("%w: %q", ErrNoRoute, j.route))
		return
	}
	resp, err := o.dispatch(ctx, j.route, rt, j.payload, false)
	if err != nil {
		fail(err)
		return
	}
	v := gjson.GetBytes(resp.Data, j.field).String()
	if isPlaceholder(v) {
		fail(fmt.Errorf("response has no %s", j.field))
		return
	}
	*j.dst = v
}
