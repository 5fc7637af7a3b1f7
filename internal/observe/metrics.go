// Package observe provides run observability for the attribution engine:
// OpenTelemetry metric instruments and a Prometheus-bridged meter provider.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all engine metrics.
const meterName = "github.com/narravox/narravox"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// Resolutions counts resolved spans. Use with attribute:
	//   attribute.String("method", "heuristic"|"llm"|"fallback")
	Resolutions metric.Int64Counter

	// CacheLookups counts cache lookups. Use with attribute:
	//   attribute.String("outcome", "hit"|"miss"|"error")
	CacheLookups metric.Int64Counter

	// InferenceAttempts counts model round-trips. Use with attribute:
	//   attribute.String("status", "ok"|"transport_error")
	InferenceAttempts metric.Int64Counter

	// SchemaRejections counts delivered-but-invalid model responses.
	SchemaRejections metric.Int64Counter

	// Fallbacks counts fallback resolutions. Use with attribute:
	//   attribute.String("rule", ...)
	Fallbacks metric.Int64Counter

	// InferenceDuration tracks model round-trip latency.
	InferenceDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for local
// model inference.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Resolutions, err = m.Int64Counter("narravox.resolutions",
		metric.WithDescription("Spans resolved, by method."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("narravox.cache.lookups",
		metric.WithDescription("Resolution cache lookups, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.InferenceAttempts, err = m.Int64Counter("narravox.inference.attempts",
		metric.WithDescription("Model round-trips, by status."),
	); err != nil {
		return nil, err
	}
	if met.SchemaRejections, err = m.Int64Counter("narravox.inference.schema_rejections",
		metric.WithDescription("Model responses rejected by the validator."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("narravox.fallbacks",
		metric.WithDescription("Fallback resolutions, by rule."),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("narravox.inference.duration",
		metric.WithDescription("Latency of model round-trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics built on the global OTel
// meter provider. Instrument creation on the global provider cannot fail.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, _ = NewMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics
}

// RecordResolution increments the resolution counter for a method.
func (m *Metrics) RecordResolution(ctx context.Context, method string) {
	m.Resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordCacheLookup increments the cache lookup counter for an outcome.
func (m *Metrics) RecordCacheLookup(ctx context.Context, outcome string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordInference records one model round-trip with its latency.
func (m *Metrics) RecordInference(ctx context.Context, status string, seconds float64) {
	m.InferenceAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.InferenceDuration.Record(ctx, seconds)
}

// RecordSchemaRejection increments the rejected-response counter.
func (m *Metrics) RecordSchemaRejection(ctx context.Context) {
	m.SchemaRejections.Add(ctx, 1)
}

// RecordFallback increments the fallback counter for a rule.
func (m *Metrics) RecordFallback(ctx context.Context, rule string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}
