// Package telemetry groups logging, tracing and metrics of the bytering components.
//
// Every component of the relay (staging buffers, the UDP receiver, the TCP
// forwarder, the QuestDB reporter) owns one [Telemetry] identified by a kind,
// the side of the relay it sits on, and a name. Both end up in log records,
// span attributes and metric names, so the occupancy of a buffer called
// "udp_to_tcp" is exported as "staging_udp_to_tcp_used_bytes".
//
// Tracer and meter come from the global otel providers: until [InitProviders]
// installs real ones every span and instrument is a no-op.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "bytering"

// Telemetry is the logger, tracer and meter of a single component.
type Telemetry struct {
	kind string
	name string

	l *Logger

	tracer trace.Tracer
	meter  metric.Meter
}

// NewTelemetry returns the telemetry of a component logging to stderr.
func NewTelemetry(kind, name string) *Telemetry {
	return newTelemetry(kind, name, NewLogger(kind, name))
}

// NewTelemetryWithLogger is like [NewTelemetry] but uses the given logger.
func NewTelemetryWithLogger(kind, name string, l *Logger) *Telemetry {
	return newTelemetry(kind, name, l)
}

func newTelemetry(kind, name string, l *Logger) *Telemetry {
	return &Telemetry{
		kind: kind,
		name: name,

		l: l,

		tracer: otel.GetTracerProvider().Tracer(instrumentationName),
		meter:  otel.GetMeterProvider().Meter(instrumentationName),
	}
}

func (t *Telemetry) Logger() *Logger {
	return t.l
}

func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.l.Debug(msg, args...)
}

func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.l.Info(msg, args...)
}

func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.l.Warn(msg, args...)
}

func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.l.Error(msg, err, args...)
}

// NewTrace starts a span tagged with the kind and name of the component.
// Hot paths such as a datagram being staged call it once per item, so it
// must stay cheap when no tracer provider is installed.
func (t *Telemetry) NewTrace(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, spanName, opts...)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("bytering.kind", t.kind),
			attribute.String("bytering.name", t.name),
		)
	}
	return ctx, span
}

func (t *Telemetry) getMeterName(name string) string {
	return fmt.Sprintf("%s_%s_%s", t.kind, t.name, name)
}

// observer reads fn into the instrument at every collection.
// Components keep their counters in atomics, fn only loads them.
func observer(fn func() int64) metric.Int64ObservableOption {
	return metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
		o.Observe(fn())
		return nil
	})
}

// NewCounter registers a monotonic counter, e.g. pushed frames or forwarded bytes.
// Registration errors are logged: a missing metric never stops a component.
func (t *Telemetry) NewCounter(name string, fn func() int64) {
	counterName := t.getMeterName(name)

	if _, err := t.meter.Int64ObservableCounter(counterName, observer(fn)); err != nil {
		t.LogError("failed to create counter", err, "name", counterName)
		return
	}

	t.LogDebug("created counter", "name", counterName)
}

// NewGauge registers a value that goes up and down, e.g. the used bytes of a ring.
func (t *Telemetry) NewGauge(name string, fn func() int64) {
	gaugeName := t.getMeterName(name)

	if _, err := t.meter.Int64ObservableGauge(gaugeName, observer(fn)); err != nil {
		t.LogError("failed to create gauge", err, "name", gaugeName)
		return
	}

	t.LogDebug("created gauge", "name", gaugeName)
}
