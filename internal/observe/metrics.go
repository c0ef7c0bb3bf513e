// Package observe provides observability primitives for Parlando:
// OpenTelemetry metrics with a Prometheus exporter bridge so the standard
// /metrics endpoint keeps working.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all Parlando metrics.
const meterName = "github.com/parlando-ai/parlando"

// Metrics holds all OpenTelemetry metric instruments for the engine.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// AlignDuration tracks how long one transcript-update alignment pass takes.
	AlignDuration metric.Float64Histogram

	// MatchedTokens counts reference tokens confirmed as read.
	MatchedTokens metric.Int64Counter

	// TranscriptEvents counts recognizer result events. Use with attribute:
	//   attribute.String("kind", "final"|"interim")
	TranscriptEvents metric.Int64Counter

	// RecognizerRestarts counts automatic stream restarts after unexpected
	// ends.
	RecognizerRestarts metric.Int64Counter

	// FeedbackRequests counts tutoring feedback requests. Use with attributes:
	//   attribute.String("reason", ...), attribute.String("status", ...)
	FeedbackRequests metric.Int64Counter

	// ActiveSessions tracks the number of live reading sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// alignBuckets defines histogram boundaries (in seconds) for alignment
// passes, which must stay well under the recognizer's event cadence.
var alignBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates all metric instruments on the given provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}

	var err error
	if m.AlignDuration, err = meter.Float64Histogram(
		"parlando.align.duration",
		metric.WithDescription("Duration of one alignment pass"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(alignBuckets...),
	); err != nil {
		return nil, err
	}
	if m.MatchedTokens, err = meter.Int64Counter(
		"parlando.align.matched_tokens",
		metric.WithDescription("Reference tokens confirmed as read"),
	); err != nil {
		return nil, err
	}
	if m.TranscriptEvents, err = meter.Int64Counter(
		"parlando.recognizer.events",
		metric.WithDescription("Recognizer result events received"),
	); err != nil {
		return nil, err
	}
	if m.RecognizerRestarts, err = meter.Int64Counter(
		"parlando.recognizer.restarts",
		metric.WithDescription("Automatic recognizer stream restarts"),
	); err != nil {
		return nil, err
	}
	if m.FeedbackRequests, err = meter.Int64Counter(
		"parlando.feedback.requests",
		metric.WithDescription("Tutoring feedback requests"),
	); err != nil {
		return nil, err
	}
	if m.ActiveSessions, err = meter.Int64UpDownCounter(
		"parlando.sessions.active",
		metric.WithDescription("Live reading sessions"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics returns the process-wide Metrics instance built on the
// global OTel meter provider. Instruments are created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Fall back to a nil instance; recording methods no-op.
			return
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordAlignment records one alignment pass and any confirmed progress.
func (m *Metrics) RecordAlignment(ctx context.Context, d time.Duration, delta int) {
	if m == nil {
		return
	}
	m.AlignDuration.Record(ctx, d.Seconds())
	if delta > 0 {
		m.MatchedTokens.Add(ctx, int64(delta))
	}
}

// RecordTranscriptEvent records a recognizer result event.
func (m *Metrics) RecordTranscriptEvent(ctx context.Context, final bool) {
	if m == nil {
		return
	}
	kind := "interim"
	if final {
		kind = "final"
	}
	m.TranscriptEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRestart records an automatic recognizer restart.
func (m *Metrics) RecordRestart(ctx context.Context) {
	if m == nil {
		return
	}
	m.RecognizerRestarts.Add(ctx, 1)
}

// RecordFeedback records a feedback request outcome.
func (m *Metrics) RecordFeedback(ctx context.Context, reason string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.FeedbackRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("status", status),
	))
}

// SessionStarted bumps the active-session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the active-session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
