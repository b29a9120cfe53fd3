package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer installs the tracer StartSpan uses. Until it is called spans are no-ops.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a child span of ctx
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

func activeSpan(ctx context.Context) (trace.Span, bool) {
	if tracer == nil {
		return nil, false
	}
	span := trace.SpanFromContext(ctx)
	return span, span.SpanContext().IsValid()
}

// GetTraceID returns the hex trace id of the active span, or ""
func GetTraceID(ctx context.Context) string {
	span, ok := activeSpan(ctx)
	if !ok {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// TraceHeaders returns the W3C traceparent and tracestate of the active span for
// transports that carry string headers, such as Kafka messages and queued jobs.
func TraceHeaders(ctx context.Context) map[string]string {
	if _, ok := activeSpan(ctx); !ok {
		return nil
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier
}

// FromHeaders continues the trace carried by headers, as written by TraceHeaders.
func FromHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return propagation.TraceContext{}.Extract(ctx, propagation.MapCarrier(headers))
}
