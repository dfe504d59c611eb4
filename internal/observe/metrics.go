// Package observe provides application-wide observability primitives for
// Cadenza: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Cadenza metrics.
const meterName = "github.com/cadenza-coach/cadenza"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AnalysisDuration tracks per-fragment lexical analysis latency.
	AnalysisDuration metric.Float64Histogram

	// GeneratorDuration tracks feedback generator (LLM) call latency.
	GeneratorDuration metric.Float64Histogram

	// SessionDuration tracks total session length from start to end.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// Fragments counts transcript fragments processed. Use with attribute:
	//   attribute.String("status", ...)
	Fragments metric.Int64Counter

	// GeneratorRequests counts generator calls. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	GeneratorRequests metric.Int64Counter

	// GeneratorFallbacks counts generator calls answered from the
	// deterministic fallbacks. Use with attribute:
	//   attribute.String("kind", ...)
	GeneratorFallbacks metric.Int64Counter

	// PersistenceRetries counts retried persistence attempts at session end.
	PersistenceRetries metric.Int64Counter

	// SessionsEnded counts finished sessions. Use with attribute:
	//   attribute.String("reason", ...) — "client", "superseded" or "disconnect"
	SessionsEnded metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live coaching sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectedClients tracks the number of open websocket connections.
	ConnectedClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both sub-millisecond lexical analysis and multi-second LLM calls.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// session durations.
var sessionBuckets = []float64{
	30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnalysisDuration, err = m.Float64Histogram("cadenza.analysis.duration",
		metric.WithDescription("Latency of per-fragment lexical analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GeneratorDuration, err = m.Float64Histogram("cadenza.generator.duration",
		metric.WithDescription("Latency of feedback generator calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("cadenza.session.duration",
		metric.WithDescription("Total session length from start to end."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Fragments, err = m.Int64Counter("cadenza.fragments",
		metric.WithDescription("Total transcript fragments processed by status."),
	); err != nil {
		return nil, err
	}
	if met.GeneratorRequests, err = m.Int64Counter("cadenza.generator.requests",
		metric.WithDescription("Total generator calls by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.GeneratorFallbacks, err = m.Int64Counter("cadenza.generator.fallbacks",
		metric.WithDescription("Total generator calls answered from deterministic fallbacks."),
	); err != nil {
		return nil, err
	}
	if met.PersistenceRetries, err = m.Int64Counter("cadenza.persistence.retries",
		metric.WithDescription("Total retried persistence attempts at session end."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("cadenza.sessions.ended",
		metric.WithDescription("Total finished sessions by end reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("cadenza.active_sessions",
		metric.WithDescription("Number of live coaching sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("cadenza.connected_clients",
		metric.WithDescription("Number of open websocket connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cadenza.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFragment records a processed transcript fragment.
func (m *Metrics) RecordFragment(ctx context.Context, status string) {
	m.Fragments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordGeneratorRequest records a generator call with the standard
// attribute set.
func (m *Metrics) RecordGeneratorRequest(ctx context.Context, kind, status string) {
	m.GeneratorRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordGeneratorFallback records a generator call answered from the
// deterministic fallbacks.
func (m *Metrics) RecordGeneratorFallback(ctx context.Context, kind string) {
	m.GeneratorFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordSessionEnded records a finished session with its end reason.
func (m *Metrics) RecordSessionEnded(ctx context.Context, reason string, durationSeconds float64) {
	m.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.SessionDuration.Record(ctx, durationSeconds)
}
