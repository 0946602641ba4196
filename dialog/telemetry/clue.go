package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// scopeName identifies the instrumentation scope under which meters and
// tracers register.
const scopeName = "github.com/flowdial/flowdial/dialog"

type (
	// clueLogger forwards runtime log lines to goa.design/clue/log. It is
	// stateless: format and debug settings travel in the context, so hosts
	// configure logging once with log.Context and every line inherits it.
	clueLogger struct{}

	// otelMetrics records measurements through the global OTEL meter.
	// Instruments are created on first use and cached per name, so hot
	// paths pay one map lookup per measurement.
	otelMetrics struct {
		meter metric.Meter

		mu       sync.Mutex
		counters map[string]metric.Float64Counter
		timers   map[string]metric.Float64Histogram
		gauges   map[string]metric.Float64Gauge
	}

	// otelTracer starts spans on the global OTEL tracer.
	otelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueLogger returns a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger { return clueLogger{} }

// NewClueMetrics returns a Metrics recorder backed by the global OTEL meter
// provider. Configure the provider before turns start, typically through
// clue's ConfigureOpenTelemetry.
func NewClueMetrics() Metrics {
	return &otelMetrics{
		meter:    otel.Meter(scopeName),
		counters: make(map[string]metric.Float64Counter),
		timers:   make(map[string]metric.Float64Histogram),
		gauges:   make(map[string]metric.Float64Gauge),
	}
}

// NewClueTracer returns a Tracer backed by the global OTEL tracer provider.
func NewClueTracer() Tracer {
	return &otelTracer{tracer: otel.Tracer(scopeName)}
}

func (clueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fields(msg, keyvals)...)
}

func (clueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fields(msg, keyvals)...)
}

func (clueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fields(msg, keyvals)...)
}

// Error pulls the first error value out of keyvals and hands it to Clue's
// dedicated error argument; remaining pairs become ordinary fields.
func (clueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	fs := []log.Fielder{log.KV{K: "msg", V: msg}}
	var cause error
	for i := 0; i < len(keyvals); i += 2 {
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		if err, ok := v.(error); ok && cause == nil {
			cause = err
			continue
		}
		fs = append(fs, log.KV{K: fmt.Sprint(keyvals[i]), V: v})
	}
	log.Error(ctx, cause, fs...)
}

// fields renders the message and the variadic pairs as Clue fielders. Keys
// are stringified; a trailing key without a value maps to nil.
func fields(msg string, keyvals []any) []log.Fielder {
	fs := make([]log.Fielder, 0, 1+len(keyvals)/2)
	fs = append(fs, log.KV{K: "msg", V: msg})
	for i := 0; i < len(keyvals); i += 2 {
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fs = append(fs, log.KV{K: fmt.Sprint(keyvals[i]), V: v})
	}
	return fs
}

// IncCounter adds value to the named counter.
func (m *otelMetrics) IncCounter(name string, value float64, tags ...string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		if c, err = m.meter.Float64Counter(name); err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.Add(context.Background(), value, metric.WithAttributes(labelSet(tags)...))
}

// RecordTimer records the duration in seconds on the named histogram.
func (m *otelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	h, ok := m.timers[name]
	if !ok {
		var err error
		if h, err = m.meter.Float64Histogram(name, metric.WithUnit("s")); err != nil {
			m.mu.Unlock()
			return
		}
		m.timers[name] = h
	}
	m.mu.Unlock()
	h.Record(context.Background(), duration.Seconds(), metric.WithAttributes(labelSet(tags)...))
}

// RecordGauge sets the named gauge to value.
func (m *otelMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		if g, err = m.meter.Float64Gauge(name); err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.Record(context.Background(), value, metric.WithAttributes(labelSet(tags)...))
}

// Start opens a span named name and returns the context carrying it.
func (t *otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	sctx, span := t.tracer.Start(ctx, name, opts...)
	return sctx, &otelSpan{span: span}
}

// Span returns the span carried by ctx, or a non-recording span when ctx
// carries none.
func (t *otelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) {
	s.span.End(opts...)
}

func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(eventAttrs(attrs)...))
}

func (s *otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// labelSet converts alternating tag pairs into string attributes. Trailing
// keys without a value are dropped.
func labelSet(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}

// eventAttrs converts alternating key-value pairs into typed attributes,
// falling back to the value's string form for types OTEL has no kind for.
func eventAttrs(keyvals []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		attrs = append(attrs, anyAttr(fmt.Sprint(keyvals[i]), keyvals[i+1]))
	}
	return attrs
}

func anyAttr(k string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(k, val)
	case int:
		return attribute.Int(k, val)
	case int64:
		return attribute.Int64(k, val)
	case float64:
		return attribute.Float64(k, val)
	case bool:
		return attribute.Bool(k, val)
	default:
		return attribute.String(k, fmt.Sprint(val))
	}
}
