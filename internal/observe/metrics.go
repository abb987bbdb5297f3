// Package observe provides application-wide observability primitives for
// duplexa: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all duplexa metrics.
const meterName = "github.com/duplexa/duplexa"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency / duration histograms ---

	// SynthesisDuration tracks the round-trip latency from synthesis request
	// to received waveform.
	SynthesisDuration metric.Float64Histogram

	// UtteranceDuration tracks the spoken length of detected utterances.
	UtteranceDuration metric.Float64Histogram

	// PlaybackDuration tracks how long playback sessions actually ran,
	// whether completed or interrupted.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts capture frames through the detection pipeline.
	// Use with attribute: attribute.String("label", "speech"|"silence")
	FramesProcessed metric.Int64Counter

	// Utterances counts detected utterances.
	Utterances metric.Int64Counter

	// BargeIns counts playback sessions interrupted by a new utterance.
	BargeIns metric.Int64Counter

	// StaleResponses counts synthesis responses discarded because their
	// utterance had been superseded. A normal race outcome, not an error.
	StaleResponses metric.Int64Counter

	// --- Error counters ---

	// SynthesisErrors counts failed synthesis round-trips. Use with
	// attribute: attribute.String("kind", ...)
	SynthesisErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePlayback tracks whether a waveform is currently being rendered
	// (0 or 1 per session).
	ActivePlayback metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live duplex sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("duplexa.synthesis.duration",
		metric.WithDescription("Round-trip latency of speech synthesis requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("duplexa.utterance.duration",
		metric.WithDescription("Spoken length of detected utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("duplexa.playback.duration",
		metric.WithDescription("Run time of playback sessions, completed or interrupted."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("duplexa.frames.processed",
		metric.WithDescription("Capture frames through the detection pipeline by label."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("duplexa.utterances",
		metric.WithDescription("Total detected utterances."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("duplexa.barge_ins",
		metric.WithDescription("Playback sessions interrupted by a new utterance."),
	); err != nil {
		return nil, err
	}
	if met.StaleResponses, err = m.Int64Counter("duplexa.synthesis.stale_responses",
		metric.WithDescription("Synthesis responses discarded for superseded utterances."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SynthesisErrors, err = m.Int64Counter("duplexa.synthesis.errors",
		metric.WithDescription("Failed synthesis round-trips by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePlayback, err = m.Int64UpDownCounter("duplexa.active_playback",
		metric.WithDescription("Whether a waveform is currently being rendered."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("duplexa.active_sessions",
		metric.WithDescription("Number of live duplex sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("duplexa.http.request.duration",
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

// RecordFrame is a convenience method that records one processed capture
// frame with its effective label.
func (m *Metrics) RecordFrame(ctx context.Context, speech bool) {
	label := "silence"
	if speech {
		label = "speech"
	}
	m.FramesProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("label", label)),
	)
}

// RecordSynthesis is a convenience method that records one synthesis
// round-trip with its outcome and latency in seconds.
func (m *Metrics) RecordSynthesis(ctx context.Context, seconds float64, err error) {
	m.SynthesisDuration.Record(ctx, seconds)
	if err != nil {
		m.SynthesisErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", "request")),
		)
	}
}

// RecordUtterance is a convenience method that records one closed utterance
// and its spoken length in seconds.
func (m *Metrics) RecordUtterance(ctx context.Context, seconds float64) {
	m.Utterances.Add(ctx, 1)
	m.UtteranceDuration.Record(ctx, seconds)
}
