// Package observe provides application-wide observability primitives for
// Consonance: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Consonance metrics.
const meterName = "github.com/consonance-ai/consonance"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per analysis stage ---

	// OverlapDuration tracks overlap detection latency per conversation.
	OverlapDuration metric.Float64Histogram

	// ProcessingDuration tracks full batch pipeline latency.
	ProcessingDuration metric.Float64Histogram

	// ChannelDuration tracks channel analysis latency.
	ChannelDuration metric.Float64Histogram

	// AnalyticsDuration tracks conversation scoring latency.
	AnalyticsDuration metric.Float64Histogram

	// --- Counters ---

	// OverlapsDetected counts detected overlaps. Use with attribute:
	//   attribute.String("overlap_type", ...)
	OverlapsDetected metric.Int64Counter

	// TrackerTransitions counts live speaker handoffs. Use with attribute:
	//   attribute.String("transition_type", ...)
	TrackerTransitions metric.Int64Counter

	// ConversationsAnalyzed counts completed analyses. Use with attribute:
	//   attribute.String("status", ...)
	ConversationsAnalyzed metric.Int64Counter

	// --- Gauges ---

	// ActiveSpeakers tracks the number of currently speaking participants
	// across all tracked conversations.
	ActiveSpeakers metric.Int64UpDownCounter

	// ActiveConversations tracks the number of live tracked conversations.
	ActiveConversations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// in-process analysis passes.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.OverlapDuration, err = m.Float64Histogram("consonance.overlap.duration",
		metric.WithDescription("Latency of overlap detection per conversation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProcessingDuration, err = m.Float64Histogram("consonance.processing.duration",
		metric.WithDescription("Latency of the full batch analysis pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChannelDuration, err = m.Float64Histogram("consonance.channel.duration",
		metric.WithDescription("Latency of per-channel audio analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalyticsDuration, err = m.Float64Histogram("consonance.analytics.duration",
		metric.WithDescription("Latency of conversation quality scoring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.OverlapsDetected, err = m.Int64Counter("consonance.overlaps.detected",
		metric.WithDescription("Total detected overlaps by classification."),
	); err != nil {
		return nil, err
	}
	if met.TrackerTransitions, err = m.Int64Counter("consonance.tracker.transitions",
		metric.WithDescription("Total live speaker handoffs by transition type."),
	); err != nil {
		return nil, err
	}
	if met.ConversationsAnalyzed, err = m.Int64Counter("consonance.conversations.analyzed",
		metric.WithDescription("Total completed conversation analyses by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("consonance.active_speakers",
		metric.WithDescription("Number of currently speaking participants."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConversations, err = m.Int64UpDownCounter("consonance.active_conversations",
		metric.WithDescription("Number of live tracked conversations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("consonance.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
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

// RecordOverlap records one detected overlap with its classification.
func (m *Metrics) RecordOverlap(ctx context.Context, overlapType string) {
	m.OverlapsDetected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("overlap_type", overlapType)),
	)
}

// RecordTransition records one live speaker handoff with its classification.
func (m *Metrics) RecordTransition(ctx context.Context, transitionType string) {
	m.TrackerTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("transition_type", transitionType)),
	)
}

// RecordConversation records one completed conversation analysis.
func (m *Metrics) RecordConversation(ctx context.Context, status string) {
	m.ConversationsAnalyzed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
