// Package observe provides observability primitives for Voxline:
// OpenTelemetry metrics with a Prometheus exporter bridge, and tracer
// provider setup.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Voxline metrics.
const meterName = "github.com/voxline-ai/voxline"

// Metrics holds the metric instruments for the orchestrator. All fields are
// safe for concurrent use.
type Metrics struct {
	// TurnDuration tracks end-to-end turn processing latency, from final
	// utterance to response text. Attributes: tenant, path (template,
	// direct_tool, llm).
	TurnDuration metric.Float64Histogram

	// STTDuration tracks time from audio submission to final transcript.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks time from synthesis request to first audio chunk.
	TTSDuration metric.Float64Histogram

	// ToolDuration tracks tool execution latency. Attributes: tool, status.
	ToolDuration metric.Float64Histogram

	// RouteDecisions counts intent router outcomes. Attributes: kind, source.
	RouteDecisions metric.Int64Counter

	// ProviderFallbacks counts turns that fell past a provider. Attributes:
	// provider, reason.
	ProviderFallbacks metric.Int64Counter

	// ToolCalls counts tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// Reconnects counts transcription stream reconnect attempts. Attribute:
	// outcome (recovered, exhausted).
	Reconnects metric.Int64Counter

	// ActiveSessions tracks live call and chat sessions. Attribute: kind.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets are histogram boundaries in seconds, tuned for a voice
// pipeline where sub-second turns matter.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("voxline.turn.duration",
		metric.WithDescription("End-to-end turn processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("voxline.stt.duration",
		metric.WithDescription("Latency from audio to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxline.tts.duration",
		metric.WithDescription("Latency from synthesis request to first audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("voxline.tool.duration",
		metric.WithDescription("Tool execution latency by tool and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.RouteDecisions, err = m.Int64Counter("voxline.route.decisions",
		metric.WithDescription("Intent router decisions by kind and source."),
	); err != nil {
		return nil, err
	}
	if met.ProviderFallbacks, err = m.Int64Counter("voxline.provider.fallbacks",
		metric.WithDescription("Turns that fell past an LLM provider."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxline.tool.calls",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("voxline.stt.reconnects",
		metric.WithDescription("Transcription stream reconnect attempts by outcome."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxline.active_sessions",
		metric.WithDescription("Live call and chat sessions by kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from the global meter provider.
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

// RecordTurn records one completed turn.
func (m *Metrics) RecordTurn(ctx context.Context, tenantID, path string, seconds float64) {
	m.TurnDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("path", path),
	))
}

// RecordSTT records latency from end of caller speech to final transcript.
func (m *Metrics) RecordSTT(ctx context.Context, tenantID string, seconds float64) {
	m.STTDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("tenant", tenantID),
	))
}

// RecordTTS records latency from a synthesis request to its first audio chunk.
func (m *Metrics) RecordTTS(ctx context.Context, tenantID string, seconds float64) {
	m.TTSDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("tenant", tenantID),
	))
}

// RecordRoute records one router decision.
func (m *Metrics) RecordRoute(ctx context.Context, kind, source string) {
	m.RouteDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("source", source),
	))
}

// RecordFallback records a turn falling past the named provider.
func (m *Metrics) RecordFallback(ctx context.Context, provider, reason string) {
	m.ProviderFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("reason", reason),
	))
}

// RecordTool records one tool execution.
func (m *Metrics) RecordTool(ctx context.Context, tool string, ok bool, seconds float64) {
	status := "ok"
	if !ok {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, seconds, attrs)
}

// RecordReconnect records one transcription reconnect outcome.
func (m *Metrics) RecordReconnect(ctx context.Context, outcome string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// SessionStarted bumps the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context, isCall bool) {
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(sessionKind(isCall)))
}

// SessionEnded drops the active session gauge.
func (m *Metrics) SessionEnded(ctx context.Context, isCall bool) {
	m.ActiveSessions.Add(ctx, -1, metric.WithAttributes(sessionKind(isCall)))
}

func sessionKind(isCall bool) attribute.KeyValue {
	if isCall {
		return attribute.String("kind", "call")
	}
	return attribute.String("kind", "chat")
}
