// Package api serves the HTTP surface of the generation service.
//
// Routes:
//
//	POST /generate-{type}   generate one asset
//	GET  /generate-{type}   usage document for a content type
//	POST /generate-batch    run a batch of generations in order
//	GET  /ai                service health, capabilities and examples
//	POST /ai                {action} health-check | reinitialize | detailed-status | service-metrics
//	GET  /ai/generations    recent generations from the history store
//	GET  /ai/stats          per-type generation statistics
//
// Every JSON body carries success and timestamp. Failures carry an error
// string that never includes backend names or internal error detail.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/loreforge/internal/history"
	"github.com/MrWong99/loreforge/internal/lifecycle"
	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/worldgen"
)

const maxRequestBodySize = 1 << 20 // 1MB

// MaxBatchOperations caps the operations accepted by /generate-batch.
const MaxBatchOperations = 100

// Version is reported by GET /ai.
const Version = "2.0.0"

// Generator is the part of the orchestrator the API drives.
type Generator interface {
	GenerateRaw(ctx context.Context, kind worldgen.ContentType, raw map[string]any) (worldgen.Response[any], error)
	GenerateBatch(ctx context.Context, ops []worldgen.BatchOperation, progress func(percent int)) []worldgen.BatchResult
}

// Lifecycle is the part of the lifecycle manager the API reports on.
type Lifecycle interface {
	State() lifecycle.State
	Reinitialize(ctx context.Context) error
	CheckServiceHealth(ctx context.Context) map[string]bool
	LastHealth() (map[string]bool, time.Time)
	ReadySince() time.Time
}

var (
	_ Generator = (*worldgen.Orchestrator)(nil)
	_ Lifecycle = (*lifecycle.Manager)(nil)
)

// Option configures a [Server].
type Option func(*Server)

// WithHistory enables /ai/generations, /ai/stats and the service-metrics
// action.
func WithHistory(store history.Store) Option {
	return func(s *Server) { s.history = store }
}

// WithMetrics instruments every request with [observe.Middleware].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMount registers extra routes, such as the health probes, on the
// router.
func WithMount(fn func(chi.Router)) Option {
	return func(s *Server) { s.mounts = append(s.mounts, fn) }
}

// WithClock overrides the time source of response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server holds the handlers of the HTTP API.
type Server struct {
	gen            Generator
	lc             Lifecycle
	history        history.Store
	metrics        *observe.Metrics
	metricsHandler http.Handler
	mounts         []func(chi.Router)
	now            func() time.Time
}

// New creates a Server.
func New(gen Generator, lc Lifecycle, opts ...Option) *Server {
	s := &Server{gen: gen, lc: lc, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	r.Post("/generate-batch", s.handleBatch)
	r.Post("/generate-{type}", s.handleGenerate)
	r.Get("/generate-{type}", s.handleUsage)

	r.Get("/ai", s.handleOverview)
	r.Post("/ai", s.handleAction)
	r.Get("/ai/generations", s.handleGenerations)
	r.Get("/ai/stats", s.handleStats)

	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}
	for _, mount := range s.mounts {
		mount(r)
	}
	return r
}

func (s *Server) timestamp() time.Time {
	return s.now().UTC()
}

// fail writes a {success:false} body with the given error message and any
// extra fields.
func (s *Server) fail(w http.ResponseWriter, status int, msg string, extra map[string]any) {
	body := map[string]any{
		"success":   false,
		"error":     msg,
		"timestamp": s.timestamp(),
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response", "err", err)
	}
}

// decodeBody reads a JSON body of at most maxRequestBodySize into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
