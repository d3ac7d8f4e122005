// Package observe provides application-wide observability primitives for
// asrtriage: OpenTelemetry metrics, tracing, structured logging, and the
// HTTP middleware for the metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all asrtriage metrics.
const meterName = "github.com/MrWong99/asrtriage"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// BatchDuration tracks end-to-end batch processing latency.
	BatchDuration metric.Float64Histogram

	// GenerateDuration tracks candidate generation latency. Use with
	// attribute.String("task", ...).
	GenerateDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts processed utterances. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("decision", ...)
	Utterances metric.Int64Counter

	// Spans counts detected risk spans. Use with attribute.String("tag", ...).
	Spans metric.Int64Counter

	// Decisions counts guardrail outcomes. Use with attributes:
	//   attribute.String("tag", ...), attribute.String("action", ...)
	Decisions metric.Int64Counter

	// EditsDropped counts auto-fix edits dropped due to span overlap.
	EditsDropped metric.Int64Counter

	// --- Error counters ---

	// GeneratorErrors counts generation backend failures that forced an
	// utterance into review. Use with attribute.String("task", ...).
	GeneratorErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveWorkers tracks the number of in-flight utterance workers.
	ActiveWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Batch
// runs take seconds to minutes; single generations fractions of a second.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.BatchDuration, err = m.Float64Histogram("asrtriage.batch.duration",
		metric.WithDescription("End-to-end batch processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerateDuration, err = m.Float64Histogram("asrtriage.generate.duration",
		metric.WithDescription("Candidate generation latency by task type."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("asrtriage.utterances",
		metric.WithDescription("Processed utterances by tier and decision."),
	); err != nil {
		return nil, err
	}
	if met.Spans, err = m.Int64Counter("asrtriage.spans",
		metric.WithDescription("Detected risk spans by tag."),
	); err != nil {
		return nil, err
	}
	if met.Decisions, err = m.Int64Counter("asrtriage.guardrail.decisions",
		metric.WithDescription("Guardrail outcomes by tag and action."),
	); err != nil {
		return nil, err
	}
	if met.EditsDropped, err = m.Int64Counter("asrtriage.edits.dropped",
		metric.WithDescription("Auto-fix edits dropped due to overlapping spans."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.GeneratorErrors, err = m.Int64Counter("asrtriage.generator.errors",
		metric.WithDescription("Generation backend failures by task type."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveWorkers, err = m.Int64UpDownCounter("asrtriage.active_workers",
		metric.WithDescription("Number of in-flight utterance workers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("asrtriage.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordUtterance records a processed utterance with the standard
// attribute set.
func (m *Metrics) RecordUtterance(ctx context.Context, tier, decision string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("decision", decision),
		),
	)
}

// RecordSpan records a detected risk span.
func (m *Metrics) RecordSpan(ctx context.Context, tag string) {
	m.Spans.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tag", tag)),
	)
}

// RecordDecision records a guardrail outcome.
func (m *Metrics) RecordDecision(ctx context.Context, tag, action string) {
	m.Decisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tag", tag),
			attribute.String("action", action),
		),
	)
}

// RecordGeneratorError records a generation backend failure.
func (m *Metrics) RecordGeneratorError(ctx context.Context, task string) {
	m.GeneratorErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("task", task)),
	)
}
