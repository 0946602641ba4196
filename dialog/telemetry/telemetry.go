// Package telemetry integrates dialogue runtime events with Clue logging and
// OpenTelemetry metrics and tracing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the runtime's structured logging seam. The bundled
// implementations delegate to Clue; tests plug in recorders.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics records counters, timers, and gauges for turn processing. Tags are
// alternating key/value pairs; a trailing key without a value is dropped.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer starts spans and recovers the active one from a context without
// binding callers to a particular OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span is an in-flight trace span:
//
//	ctx, span := tracer.Start(ctx, "turn", trace.WithSpanKind(trace.SpanKindServer))
//	defer span.End()
//	span.SetStatus(codes.Ok, "completed")
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// TurnTelemetry aggregates the observability counters collected while one
// turn runs. Extra carries provider-specific values such as NLU latency
// breakdowns or cache hits.
type TurnTelemetry struct {
	// DurationMs is the wall-clock turn duration in milliseconds.
	DurationMs int64
	// Steps counts the subgraph steps executed during the turn.
	Steps int
	// Commands counts the commands executed during the turn.
	Commands int
	// Model identifies the NLU model used, when known.
	Model string
	// Extra holds provider-specific metadata not captured above.
	Extra map[string]any
}
