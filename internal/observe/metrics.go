// Package observe provides application-wide observability primitives for
// memoryd: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all memoryd metrics.
const meterName = "github.com/knowgraph/memoryd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMCallDuration tracks LLM completion latency. Use with attribute:
	//   attribute.String("tier", "small"|"large")
	LLMCallDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// WorkerCycleDuration tracks one background worker cycle's wall-clock
	// time. Use with attribute:
	//   attribute.String("worker", "decay"|"revision"|"inference"|"episode_clustering")
	WorkerCycleDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts LLM provider calls. Use with attributes:
	//   attribute.String("tier", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts LLM provider errors. Use with attribute:
	//   attribute.String("tier", ...)
	ProviderErrors metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// EventsPublished counts event-bus publications. Use with attribute:
	//   attribute.String("event_type", ...)
	EventsPublished metric.Int64Counter

	// EventsDropped counts event-bus deliveries dropped on a full subscriber
	// buffer. Use with attributes:
	//   attribute.String("event_type", ...), attribute.String("subscriber", ...)
	EventsDropped metric.Int64Counter

	// CallbackErrors counts event-bus subscriber handler errors. Use with
	// attribute:
	//   attribute.String("subscriber", ...)
	CallbackErrors metric.Int64Counter

	// CallbackTimeouts counts event-bus critical-event deliveries that
	// exceeded the blocking-send deadline. Use with attribute:
	//   attribute.String("subscriber", ...)
	CallbackTimeouts metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of pending items in a queue. Use with
	// attribute:
	//   attribute.String("queue", "inbound"|"outbound")
	QueueDepth metric.Int64UpDownCounter

	// ActiveSubscriptions tracks the number of open MCP subscribe tool
	// calls. Other event-bus subscribers are not counted.
	ActiveSubscriptions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from a sub-10ms graph query to a multi-second LLM completion.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMCallDuration, err = m.Float64Histogram("memoryd.llm.call.duration",
		metric.WithDescription("Latency of LLM completion calls, by capability tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("memoryd.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.WorkerCycleDuration, err = m.Float64Histogram("memoryd.worker.cycle.duration",
		metric.WithDescription("Wall-clock time of one background worker cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("memoryd.llm.requests",
		metric.WithDescription("Total LLM provider calls by capability tier and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("memoryd.llm.errors",
		metric.WithDescription("Total LLM provider errors by capability tier."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("memoryd.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("memoryd.events.published",
		metric.WithDescription("Total event-bus publications by event type."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("memoryd.events.dropped",
		metric.WithDescription("Total event-bus deliveries dropped on a full subscriber buffer."),
	); err != nil {
		return nil, err
	}
	if met.CallbackErrors, err = m.Int64Counter("memoryd.events.callback_errors",
		metric.WithDescription("Total event-bus subscriber callback errors."),
	); err != nil {
		return nil, err
	}
	if met.CallbackTimeouts, err = m.Int64Counter("memoryd.events.callback_timeouts",
		metric.WithDescription("Total critical event-bus deliveries that exceeded the blocking-send deadline."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("memoryd.queue.depth",
		metric.WithDescription("Number of pending items in a queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscriptions, err = m.Int64UpDownCounter("memoryd.events.active_subscriptions",
		metric.WithDescription("Number of live event-bus subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("memoryd.http.request.duration",
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

// RecordLLMCall is a convenience method that records an LLM call's duration
// and request/error counters in one call.
func (m *Metrics) RecordLLMCall(ctx context.Context, tier, status string, seconds float64) {
	m.LLMCallDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tier", tier)))
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tier", tier), attribute.String("status", status)),
	)
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	}
}

// RecordToolCall is a convenience method that records a tool call's duration
// and invocation counter in one call.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	m.ToolExecutionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tool", tool), attribute.String("status", status)),
	)
}

// RecordWorkerCycle is a convenience method that records one background
// worker cycle's duration.
func (m *Metrics) RecordWorkerCycle(ctx context.Context, worker string, seconds float64) {
	m.WorkerCycleDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("worker", worker)))
}

// SetQueueDepth adds delta to queue's pending-item gauge. A poller passes
// the change in pending count since its previous reading, not the count
// itself.
func (m *Metrics) SetQueueDepth(ctx context.Context, queue string, delta int64) {
	m.QueueDepth.Add(ctx, delta, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordPublish implements [eventbus.Metrics].
func (m *Metrics) RecordPublish(ctx context.Context, eventType string) {
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordDroppedEvent implements [eventbus.Metrics].
func (m *Metrics) RecordDroppedEvent(ctx context.Context, eventType, subscriberID string) {
	m.EventsDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event_type", eventType), attribute.String("subscriber", subscriberID)),
	)
}

// RecordCallbackError implements [eventbus.Metrics].
func (m *Metrics) RecordCallbackError(ctx context.Context, subscriberID string) {
	m.CallbackErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("subscriber", subscriberID)))
}

// RecordCallbackTimeout implements [eventbus.Metrics].
func (m *Metrics) RecordCallbackTimeout(ctx context.Context, subscriberID string) {
	m.CallbackTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("subscriber", subscriberID)))
}
