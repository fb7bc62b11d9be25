// Package observe provides the observability primitives for loreforge:
// OpenTelemetry metrics, distributed tracing, request-scoped logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// to Prometheus via [InitProvider]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all loreforge metrics.
const meterName = "github.com/MrWong99/loreforge"

// Status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks end-to-end generation latency per content
	// type, including enrichment. Attributes: kind, status.
	GenerationDuration metric.Float64Histogram

	// BackendDuration tracks the latency of a single backend call.
	// Attributes: backend, operation.
	BackendDuration metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts backend calls. Attributes: backend, operation, status.
	BackendRequests metric.Int64Counter

	// BackendErrors counts failed backend calls. Attributes: backend, kind.
	BackendErrors metric.Int64Counter

	// EnrichmentFailures counts optional enrichment calls that failed.
	// Attributes: kind, asset.
	EnrichmentFailures metric.Int64Counter

	// RetryAttempts counts retries triggered by rate limiting. Attributes: route.
	RetryAttempts metric.Int64Counter

	// CacheLookups counts response cache lookups. Attributes: result (hit|miss).
	CacheLookups metric.Int64Counter

	// --- Gauges ---

	// ServiceHealth reports the last observed health of each service key
	// (1 healthy, 0 unhealthy). Attributes: service.
	ServiceHealth metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers generation latencies from fast cache hits to slow
// image models.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.GenerationDuration, err = m.Float64Histogram("loreforge.generation.duration",
		metric.WithDescription("End-to-end latency of a generation request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendDuration, err = m.Float64Histogram("loreforge.backend.duration",
		metric.WithDescription("Latency of a single backend call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.BackendRequests, err = m.Int64Counter("loreforge.backend.requests",
		metric.WithDescription("Total backend calls by backend, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("loreforge.backend.errors",
		metric.WithDescription("Total backend errors by backend and error kind."),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentFailures, err = m.Int64Counter("loreforge.enrichment.failures",
		metric.WithDescription("Optional enrichment calls that failed."),
	); err != nil {
		return nil, err
	}
	if met.RetryAttempts, err = m.Int64Counter("loreforge.retry.attempts",
		metric.WithDescription("Retries caused by rate limiting."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("loreforge.cache.lookups",
		metric.WithDescription("Response cache lookups by result."),
	); err != nil {
		return nil, err
	}

	if met.ServiceHealth, err = m.Int64Gauge("loreforge.service.health",
		metric.WithDescription("Last observed service health (1 healthy, 0 unhealthy)."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("loreforge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordGeneration records the duration of one generation request.
func (m *Metrics) RecordGeneration(ctx context.Context, kind string, d time.Duration, err error) {
	m.GenerationDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status(err)),
		),
	)
}

// RecordBackendCall records the request counter and latency of one backend
// call. errKind is only used when err is non-nil.
func (m *Metrics) RecordBackendCall(ctx context.Context, backendName, operation string, d time.Duration, err error, errKind string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backendName),
			attribute.String("operation", operation),
			attribute.String("status", status(err)),
		),
	)
	m.BackendDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backendName),
			attribute.String("operation", operation),
		),
	)
	if err != nil {
		m.BackendErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("backend", backendName),
				attribute.String("kind", errKind),
			),
		)
	}
}

// RecordEnrichmentFailure counts a failed optional enrichment call.
func (m *Metrics) RecordEnrichmentFailure(ctx context.Context, kind, asset string) {
	m.EnrichmentFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("asset", asset),
		),
	)
}

// RecordRetry counts a retry on the given route.
func (m *Metrics) RecordRetry(ctx context.Context, route string) {
	m.RetryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// RecordCacheLookup counts a cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordServiceHealth sets the health gauge for every entry of health.
func (m *Metrics) RecordServiceHealth(ctx context.Context, health map[string]bool) {
	for svc, ok := range health {
		var v int64
		if ok {
			v = 1
		}
		m.ServiceHealth.Record(ctx, v, metric.WithAttributes(attribute.String("service", svc)))
	}
}
