// Package observe holds the observability primitives for Cliniscribe:
// OpenTelemetry metrics, tracing, structured logging, and the HTTP middleware
// that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed to
// Prometheus via the exporter bridge wired up in [InitProvider], so the usual
// /metrics scrape keeps working. [DefaultMetrics] is the package-level
// instance; tests build their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Cliniscribe metrics.
const meterName = "github.com/cliniscribe/cliniscribe"

// Metrics bundles every metric instrument the application records. The OTel
// instruments synchronise internally, so the struct is safe to share.
type Metrics struct {
	// Latency histograms, one per pipeline stage.
	STTDuration        metric.Float64Histogram
	ExtractionDuration metric.Float64Histogram
	ChatDuration       metric.Float64Histogram
	EmbeddingDuration  metric.Float64Histogram

	// ProviderRequests counts provider API calls, labelled with provider,
	// kind, and status. ProviderErrors drops the status label.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// VisitsCompleted counts finished visit sessions by outcome: "applied",
	// "no_changes", "aborted", or "failed".
	VisitsCompleted metric.Int64Counter

	// FieldsMerged counts record columns written by the merge engine, by
	// field. TermCorrections counts phonetic fixes applied to transcripts.
	FieldsMerged    metric.Int64Counter
	TermCorrections metric.Int64Counter

	// ActiveSessions tracks live recording sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks dashboard request latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are the histogram boundaries in seconds, tuned for
// speech-pipeline stages that range from sub-100ms partials to multi-second
// LLM completions.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// instruments creates instruments from one meter, remembering the first
// error so NewMetrics can assemble the struct without an if per field.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) latencyHistogram(name, desc string) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if in.err == nil {
		in.err = err
	}
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	if in.err == nil {
		in.err = err
	}
	return c
}

// NewMetrics creates every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}

	met := &Metrics{
		STTDuration:        in.latencyHistogram("cliniscribe.stt.duration", "Latency of speech-to-text transcription."),
		ExtractionDuration: in.latencyHistogram("cliniscribe.extract.duration", "Latency of LLM field extraction."),
		ChatDuration:       in.latencyHistogram("cliniscribe.chat.duration", "Latency of patient Q&A completions."),
		EmbeddingDuration:  in.latencyHistogram("cliniscribe.embedding.duration", "Latency of visit-archive embedding."),

		ProviderRequests: in.counter("cliniscribe.provider.requests", "Total provider API requests by provider, kind, and status."),
		ProviderErrors:   in.counter("cliniscribe.provider.errors", "Total provider errors by provider and kind."),
		VisitsCompleted:  in.counter("cliniscribe.visits.completed", "Total finished visit sessions by outcome."),
		FieldsMerged:     in.counter("cliniscribe.record.fields_merged", "Total patient record columns written by the merge engine, by field."),
		TermCorrections:  in.counter("cliniscribe.transcript.corrections", "Total phonetic medical-term corrections applied to transcripts."),
	}

	var err error
	if met.ActiveSessions, err = in.meter.Int64UpDownCounter("cliniscribe.active_sessions",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil && in.err == nil {
		in.err = err
	}

	// The HTTP histogram keeps the SDK's default boundaries; dashboard
	// requests are not bound by the speech-pipeline bucket layout.
	if met.HTTPRequestDuration, err = in.meter.Float64Histogram("cliniscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil && in.err == nil {
		in.err = err
	}

	if in.err != nil {
		return nil, in.err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. Panics if instrument creation fails, which the
// global provider never does.
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

// Attr shortens [attribute.String] at call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter with the
// standard label set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordVisitCompleted records one finished visit session with its outcome.
func (m *Metrics) RecordVisitCompleted(ctx context.Context, outcome string) {
	m.VisitsCompleted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordFieldMerged records one merged record column.
func (m *Metrics) RecordFieldMerged(ctx context.Context, field string) {
	m.FieldsMerged.Add(ctx, 1,
		metric.WithAttributes(attribute.String("field", field)),
	)
}
