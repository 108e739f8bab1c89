// Package observe provides application-wide observability primitives for
// Scribegate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// No metric in this package carries transcript text, not even as an
// attribute: labels, methods, counts and durations only.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Scribegate metrics.
const meterName = "github.com/scribegate/scribegate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ScanDuration tracks fast-lane pattern scan latency per chunk.
	ScanDuration metric.Float64Histogram

	// PassDuration tracks slow-lane contextual pass latency over the full
	// buffer.
	PassDuration metric.Float64Histogram

	// ApplyDuration tracks redaction apply latency.
	ApplyDuration metric.Float64Histogram

	// --- Counters ---

	// EntitiesDetected counts detected entities. Use with attributes:
	//   attribute.String("label", ...), attribute.String("method", ...)
	EntitiesDetected metric.Int64Counter

	// ChunksProcessed counts ingested chunks. Use with attribute:
	//   attribute.String("channel", ...)
	ChunksProcessed metric.Int64Counter

	// SnapshotsBuilt counts snapshot builds.
	SnapshotsBuilt metric.Int64Counter

	// AppliesPerformed counts apply calls. Use with attribute:
	//   attribute.String("status", ...) — "ok" or "error"
	AppliesPerformed metric.Int64Counter

	// --- Error counters ---

	// UnmappedLabels counts contextual label guesses that could not be
	// folded onto the closed label set.
	UnmappedLabels metric.Int64Counter

	// SlowLaneFailures counts abandoned or failed slow-lane passes. Use with
	// attribute: attribute.String("reason", ...) — "timeout", "unavailable",
	// "error".
	SlowLaneFailures metric.Int64Counter

	// EgressRefused counts policy-gate refusals. Use with attribute:
	//   attribute.String("reason", ...) — "offline", "error".
	EgressRefused metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live redaction sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The fast
// lane lives in the sub-millisecond range; slow-lane passes can take tens of
// seconds against a local model.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ScanDuration, err = m.Float64Histogram("scribegate.scan.duration",
		metric.WithDescription("Latency of fast-lane pattern scans per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PassDuration, err = m.Float64Histogram("scribegate.pass.duration",
		metric.WithDescription("Latency of slow-lane contextual passes over the session buffer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ApplyDuration, err = m.Float64Histogram("scribegate.apply.duration",
		metric.WithDescription("Latency of redaction apply calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EntitiesDetected, err = m.Int64Counter("scribegate.entities.detected",
		metric.WithDescription("Total entities detected by label and detection method."),
	); err != nil {
		return nil, err
	}
	if met.ChunksProcessed, err = m.Int64Counter("scribegate.chunks.processed",
		metric.WithDescription("Total transcript chunks ingested by channel."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotsBuilt, err = m.Int64Counter("scribegate.snapshots.built",
		metric.WithDescription("Total snapshots built."),
	); err != nil {
		return nil, err
	}
	if met.AppliesPerformed, err = m.Int64Counter("scribegate.apply.count",
		metric.WithDescription("Total apply calls by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.UnmappedLabels, err = m.Int64Counter("scribegate.labels.unmapped",
		metric.WithDescription("Total contextual label guesses dropped as unmappable."),
	); err != nil {
		return nil, err
	}
	if met.SlowLaneFailures, err = m.Int64Counter("scribegate.slowlane.failures",
		metric.WithDescription("Total failed slow-lane passes by reason."),
	); err != nil {
		return nil, err
	}
	if met.EgressRefused, err = m.Int64Counter("scribegate.egress.refused",
		metric.WithDescription("Total policy-gate refusals by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("scribegate.active_sessions",
		metric.WithDescription("Number of live redaction sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scribegate.http.request.duration",
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

// RecordEntity records one detected entity with the standard attribute set.
func (m *Metrics) RecordEntity(ctx context.Context, label, method string) {
	m.EntitiesDetected.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("label", label),
			attribute.String("method", method),
		),
	)
}

// RecordChunk records one ingested chunk.
func (m *Metrics) RecordChunk(ctx context.Context, channel string) {
	m.ChunksProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("channel", channel)),
	)
}

// RecordSlowLaneFailure records one failed contextual pass.
func (m *Metrics) RecordSlowLaneFailure(ctx context.Context, reason string) {
	m.SlowLaneFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordApply records one apply call with its outcome.
func (m *Metrics) RecordApply(ctx context.Context, status string) {
	m.AppliesPerformed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordEgressRefused records one policy-gate refusal.
func (m *Metrics) RecordEgressRefused(ctx context.Context, reason string) {
	m.EgressRefused.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
