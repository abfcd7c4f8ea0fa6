// Package observe holds the OpenTelemetry instruments of the speaker
// service and device, the provider setup that bridges them to Prometheus,
// and HTTP middleware recording request spans and latency.
//
// Tests should build [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] so recordings do not leak between tests.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/book-expert/speaker-service"

// Outcome labels for ingest and playback counters.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeSynthesis  = "synthesis"
	OutcomeTranscode  = "transcode"
	OutcomeStore      = "store"
	OutcomeError      = "error"
)

// Metrics holds every instrument. The OTel types synchronise internally.
type Metrics struct {
	// IngestDuration tracks end-to-end ingestion latency. Attribute: kind.
	IngestDuration metric.Float64Histogram

	// TranscodeDuration tracks the external conversion only.
	TranscodeDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech requests.
	SynthesisDuration metric.Float64Histogram

	// IngestResults counts ingestions. Attributes: kind, outcome.
	IngestResults metric.Int64Counter

	// ArtifactsDeleted counts successful catalog removals.
	ArtifactsDeleted metric.Int64Counter

	// PlaybackTransitions counts controller state changes. Attributes: from, to.
	PlaybackTransitions metric.Int64Counter

	// AmplifierEnabled is 1 while the amplifier is powered, 0 otherwise.
	AmplifierEnabled metric.Int64UpDownCounter

	// HTTPRequestDuration tracks handler latency. Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers short HTTP calls up to long conversions (seconds).
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.IngestDuration, err = m.Float64Histogram("speaker.ingest.duration",
		metric.WithDescription("Latency of a full ingestion from input to published artifact."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscodeDuration, err = m.Float64Histogram("speaker.transcode.duration",
		metric.WithDescription("Latency of the external audio conversion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("speaker.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.IngestResults, err = m.Int64Counter("speaker.ingest.results",
		metric.WithDescription("Ingestions by input kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactsDeleted, err = m.Int64Counter("speaker.artifacts.deleted",
		metric.WithDescription("Artifacts removed through the catalog."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackTransitions, err = m.Int64Counter("speaker.playback.transitions",
		metric.WithDescription("Playback controller state transitions."),
	); err != nil {
		return nil, err
	}

	if met.AmplifierEnabled, err = m.Int64UpDownCounter("speaker.amplifier.enabled",
		metric.WithDescription("1 while the amplifier is enabled."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("speaker.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Discard returns instruments bound to a no-op provider.
func Discard() *Metrics {
	met, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}

	return met
}

// RecordIngest records one finished ingestion.
func (m *Metrics) RecordIngest(ctx context.Context, kind, outcome string, seconds float64) {
	kindAttr := attribute.String("kind", kind)

	m.IngestDuration.Record(ctx, seconds, metric.WithAttributes(kindAttr))
	m.IngestResults.Add(ctx, 1, metric.WithAttributes(kindAttr, attribute.String("outcome", outcome)))
}

// RecordTransition records a playback state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.PlaybackTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordAmplifier records an amplifier edge.
func (m *Metrics) RecordAmplifier(ctx context.Context, enabled bool) {
	if enabled {
		m.AmplifierEnabled.Add(ctx, 1)

		return
	}

	m.AmplifierEnabled.Add(ctx, -1)
}
