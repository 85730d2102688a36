// Package observe provides application-wide observability primitives for
// Reverie: OpenTelemetry metrics, tracing helpers, and structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Reverie metrics.
const meterName = "github.com/reverie-chat/reverie"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// BranchDuration tracks per-branch scatter latency. Use with attribute:
	//   attribute.String("branch", "emotion"|"cache"|"boundary"|"flow"|"retrieval")
	BranchDuration metric.Float64Histogram

	// LLMDuration tracks reply-generation latency.
	LLMDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end message handling latency.
	PipelineDuration metric.Float64Histogram

	// PersistDuration tracks turn dual-write latency.
	PersistDuration metric.Float64Histogram

	// --- Counters ---

	// MessagesProcessed counts handled inbound messages. Use with attributes:
	//   attribute.String("persona_id", ...), attribute.String("status", ...)
	MessagesProcessed metric.Int64Counter

	// BranchFailures counts degraded scatter branches. Use with attribute:
	//   attribute.String("branch", ...)
	BranchFailures metric.Int64Counter

	// SpoofingDetections counts dropped spoofed messages.
	SpoofingDetections metric.Int64Counter

	// PersistFailures counts turn writes that failed after retry. Use with
	// attribute: attribute.String("store", "vector"|"relational")
	PersistFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveConversations tracks conversations currently holding a pipeline
	// lock or with queued messages.
	ActiveConversations metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both fast scatter branches and full LLM round-trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.BranchDuration, err = m.Float64Histogram("reverie.branch.duration",
		metric.WithDescription("Latency of one scatter branch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("reverie.llm.duration",
		metric.WithDescription("Latency of reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("reverie.pipeline.duration",
		metric.WithDescription("End-to-end inbound message handling latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PersistDuration, err = m.Float64Histogram("reverie.persist.duration",
		metric.WithDescription("Latency of the turn dual-write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MessagesProcessed, err = m.Int64Counter("reverie.messages.processed",
		metric.WithDescription("Total handled inbound messages by persona and status."),
	); err != nil {
		return nil, err
	}
	if met.BranchFailures, err = m.Int64Counter("reverie.branch.failures",
		metric.WithDescription("Total scatter branches that degraded to a None signal."),
	); err != nil {
		return nil, err
	}
	if met.SpoofingDetections, err = m.Int64Counter("reverie.spoofing.detections",
		metric.WithDescription("Total messages dropped for role spoofing."),
	); err != nil {
		return nil, err
	}
	if met.PersistFailures, err = m.Int64Counter("reverie.persist.failures",
		metric.WithDescription("Total turn writes that failed after retry, by store."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConversations, err = m.Int64UpDownCounter("reverie.active_conversations",
		metric.WithDescription("Number of conversations with in-flight or queued messages."),
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

// RecordBranchFailure records one degraded scatter branch.
func (m *Metrics) RecordBranchFailure(ctx context.Context, branch string) {
	m.BranchFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("branch", branch)),
	)
}

// RecordMessage records one handled inbound message.
func (m *Metrics) RecordMessage(ctx context.Context, personaID, status string) {
	m.MessagesProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("persona_id", personaID),
			attribute.String("status", status),
		),
	)
}

// RecordPersistFailure records one failed turn write after retry.
func (m *Metrics) RecordPersistFailure(ctx context.Context, store string) {
	m.PersistFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("store", store)),
	)
}
