// Package telemetry wires the ambient tracing layer spec.md's "no
// remote transport" non-goal does not reach: it scopes the debug
// protocol itself, not telemetry export. internal/engine emits one
// span per SetBreakpoint, Continue, StepOver, StepInto and StepOut call
// (Launch and Attach are not spanned), parented under a per-session
// trace, exported via
// OTLP/HTTP when OTEL_EXPORTER_OTLP_ENDPOINT is set and dropped by a
// no-op tracer otherwise. Grounded on oriys-nova's
// internal/observability/telemetry.go and tracer.go.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps the process-wide TracerProvider. The zero value is
// not usable; construct one with Init.
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &Provider{tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init configures global tracing. If endpoint is empty (the
// OTEL_EXPORTER_OTLP_ENDPOINT env var was unset), spans are generated
// but discarded by a no-op tracer; this keeps internal/engine's span
// calls unconditional instead of guarding every call site.
func Init(ctx context.Context, serviceName, endpoint string) error {
	if endpoint == "" {
		global = &Provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return fmt.Errorf("telemetry: build resource: %w", err)
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	global = &Provider{tp: tp, tracer: tp.Tracer(serviceName), enabled: true}
	return nil
}

// InitFromEnv is the entry point cmd/serve.go calls: it reads
// OTEL_EXPORTER_OTLP_ENDPOINT directly, the same ambient-config
// convention the OTLP exporters themselves use.
func InitFromEnv(ctx context.Context, serviceName string) error {
	return Init(ctx, serviceName, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

// Shutdown flushes and stops the tracer provider, a no-op if tracing
// was never enabled.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Enabled reports whether spans are actually being exported.
func Enabled() bool { return global.enabled }

// StartSpan starts a span named op under ctx's current trace (the
// session's root span, if the caller set one up with StartSession).
func StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}

// StartSession starts the per-session root span every subsequent
// StartSpan call for that session's operations should be parented
// under; the caller carries the returned context through Engine calls
// until Disconnect.
func StartSession(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, "session",
		trace.WithAttributes(AttrSessionID.String(sessionID)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// RecordError marks span as failed with err's message.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordOK marks span as having completed successfully.
func RecordOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys shared across internal/engine's span calls.
var (
	AttrSessionID    = attribute.Key("clrdbg.session_id")
	AttrPID          = attribute.Key("clrdbg.pid")
	AttrBreakpointID = attribute.Key("clrdbg.breakpoint_id")
	AttrThreadID     = attribute.Key("clrdbg.thread_id")
)
