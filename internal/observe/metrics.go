// Package observe provides application-wide observability primitives for the
// voice-agent server: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voice-agent metrics.
const meterName = "github.com/Vivek-Chaudhari30/voice-agent"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FrameHandleDuration tracks the end-to-end handling time of one inbound
	// telephony frame (decode, transcode, append to the model buffer). The
	// audio path budget is 50 ms per frame at p99.
	FrameHandleDuration metric.Float64Histogram

	// TranscodeDuration tracks pure transcoding time. Use with attribute:
	//   attribute.String("direction", "in"|"out")
	TranscodeDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool dispatch latency. Use with attribute:
	//   attribute.String("tool", ...)
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// AudioFrames counts audio frames relayed. Use with attribute:
	//   attribute.String("direction", "in"|"out")
	AudioFrames metric.Int64Counter

	// AudioBytes counts relayed audio payload bytes, same attributes as
	// AudioFrames.
	AudioBytes metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// CacheWrites counts session-cache write outcomes. Use with attribute:
	//   attribute.String("status", "ok"|"dropped"|"error")
	CacheWrites metric.Int64Counter

	// LLMReconnects counts model-socket reconnect attempts. Use with attribute:
	//   attribute.String("result", "ok"|"failed")
	LLMReconnects metric.Int64Counter

	// CallsEnded counts completed calls. Use with attribute:
	//   attribute.String("reason", ...)
	CallsEnded metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live bridged calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for soft-realtime audio-path latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameHandleDuration, err = m.Float64Histogram("voiceagent.frame.duration",
		metric.WithDescription("Handling latency of one inbound telephony frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscodeDuration, err = m.Float64Histogram("voiceagent.transcode.duration",
		metric.WithDescription("Audio transcoding latency by direction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("voiceagent.tool_execution.duration",
		metric.WithDescription("Latency of tool execution by tool name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioFrames, err = m.Int64Counter("voiceagent.audio.frames",
		metric.WithDescription("Total relayed audio frames by direction."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("voiceagent.audio.bytes",
		metric.WithDescription("Total relayed audio payload bytes by direction."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voiceagent.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheWrites, err = m.Int64Counter("voiceagent.cache.writes",
		metric.WithDescription("Session-cache write outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.LLMReconnects, err = m.Int64Counter("voiceagent.llm.reconnects",
		metric.WithDescription("Model-socket reconnect attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.CallsEnded, err = m.Int64Counter("voiceagent.calls.ended",
		metric.WithDescription("Completed calls by termination reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("voiceagent.active_calls",
		metric.WithDescription("Number of live bridged calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceagent.http.request.duration",
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

// RecordFrame is a convenience method that records one relayed audio frame
// and its payload size.
func (m *Metrics) RecordFrame(ctx context.Context, direction string, bytes int) {
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.AudioFrames.Add(ctx, 1, attrs)
	m.AudioBytes.Add(ctx, int64(bytes), attrs)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCacheWrite is a convenience method that records a session-cache write
// outcome.
func (m *Metrics) RecordCacheWrite(ctx context.Context, status string) {
	m.CacheWrites.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCallEnded is a convenience method that records a completed call with
// its termination reason.
func (m *Metrics) RecordCallEnded(ctx context.Context, reason string) {
	m.CallsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
