package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Discard implementations let runtime components treat telemetry as always
// present. Constructors hand these out when hosts leave the corresponding
// option unset.

type (
	nopLogger  struct{}
	nopMetrics struct{}
	nopTracer  struct{}
	nopSpan    struct{}
)

// NewNoopLogger returns a Logger that drops every line.
func NewNoopLogger() Logger { return nopLogger{} }

// NewNoopMetrics returns a Metrics recorder that drops every measurement.
func NewNoopMetrics() Metrics { return nopMetrics{} }

// NewNoopTracer returns a Tracer whose spans record nothing.
func NewNoopTracer() Tracer { return nopTracer{} }

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}

func (nopMetrics) IncCounter(string, float64, ...string)        {}
func (nopMetrics) RecordTimer(string, time.Duration, ...string) {}
func (nopMetrics) RecordGauge(string, float64, ...string)       {}

func (nopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, nopSpan{}
}

func (nopTracer) Span(context.Context) Span { return nopSpan{} }

func (nopSpan) End(...trace.SpanEndOption)              {}
func (nopSpan) AddEvent(string, ...any)                 {}
func (nopSpan) SetStatus(codes.Code, string)            {}
func (nopSpan) RecordError(error, ...trace.EventOption) {}
