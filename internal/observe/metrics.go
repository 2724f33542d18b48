// Package observe provides application-wide observability primitives: OpenTelemetry
// metrics, distributed tracing, structured logging, and HTTP middleware that
// ties them together.
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/singer-orchestrator"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks LLM inference latency, per orchestrator iteration.
	LLMDuration metric.Float64Histogram

	// ToolCallDuration tracks tool execution latency end-to-end (dispatch
	// through ToolRouter, including any retry).
	ToolCallDuration metric.Float64Histogram

	// JobDuration tracks synthesis job wall-clock time from queued to a
	// terminal state.
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("class", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolRetries counts at-most-once retries issued by the ToolRouter.
	ToolRetries metric.Int64Counter

	// WorkerRestarts counts worker subprocess restarts. Use with attribute:
	//   attribute.String("class", ...)
	WorkerRestarts metric.Int64Counter

	// Jobs counts job terminal transitions. Use with attributes:
	//   attribute.String("outcome", ...) one of done/error/cancelled
	Jobs metric.Int64Counter

	// Reservations counts reserve/settle/release operations. Use with
	// attributes: attribute.String("op", ...), attribute.String("outcome", ...)
	Reservations metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts LLM provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live chat sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveJobs tracks the number of non-terminal synthesis jobs.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// jobLatencyBuckets covers the much wider range of a synthesis job, up to
// the default deadline.
var jobLatencyBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("singer.llm.duration",
		metric.WithDescription("Latency of LLM inference per orchestrator iteration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("singer.tool_call.duration",
		metric.WithDescription("Latency of ToolRouter tool dispatch, including retry."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("singer.job.duration",
		metric.WithDescription("Wall-clock duration of a synthesis job from queued to terminal."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobLatencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolCalls, err = m.Int64Counter("singer.tool.calls",
		metric.WithDescription("Total tool invocations by tool name, class, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolRetries, err = m.Int64Counter("singer.tool.retries",
		metric.WithDescription("Total at-most-once tool retries issued after worker_lost."),
	); err != nil {
		return nil, err
	}
	if met.WorkerRestarts, err = m.Int64Counter("singer.worker.restarts",
		metric.WithDescription("Total worker subprocess restarts by class."),
	); err != nil {
		return nil, err
	}
	if met.Jobs, err = m.Int64Counter("singer.jobs.total",
		metric.WithDescription("Total synthesis jobs by terminal outcome."),
	); err != nil {
		return nil, err
	}
	if met.Reservations, err = m.Int64Counter("singer.reservations.total",
		metric.WithDescription("Total credit reservation operations by op and outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("singer.provider.errors",
		metric.WithDescription("Total LLM provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("singer.active_sessions",
		metric.WithDescription("Number of live chat sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveJobs, err = m.Int64UpDownCounter("singer.active_jobs",
		metric.WithDescription("Number of non-terminal synthesis jobs."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("singer.http.request.duration",
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

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, class, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("class", class),
			attribute.String("status", status),
		),
	)
}

// RecordToolRetry is a convenience method that records a retry increment.
func (m *Metrics) RecordToolRetry(ctx context.Context, tool string) {
	m.ToolRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordWorkerRestart is a convenience method that records a worker restart.
func (m *Metrics) RecordWorkerRestart(ctx context.Context, class string) {
	m.WorkerRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// RecordJobOutcome is a convenience method that records a job's terminal
// transition.
func (m *Metrics) RecordJobOutcome(ctx context.Context, outcome string) {
	m.Jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordReservation is a convenience method that records a reservation
// operation.
func (m *Metrics) RecordReservation(ctx context.Context, op, outcome string) {
	m.Reservations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
