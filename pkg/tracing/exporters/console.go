package exporters

import (
	"context"

	"github.com/Gobusters/ectologger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans to the debug log. It stands in for OTLP when
// no collector endpoint is configured.
type LogExporter struct {
	Logger ectologger.Logger
}

func (l *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	if l.Logger == nil {
		return nil
	}
	for _, span := range spans {
		fields := map[string]any{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
			"duration": span.EndTime().Sub(span.StartTime()).String(),
		}
		if parent := span.Parent(); parent.IsValid() {
			fields["parent_span_id"] = parent.SpanID().String()
		}
		if status := span.Status(); status.Description != "" {
			fields["status"] = status.Code.String() + ": " + status.Description
		}
		l.Logger.WithFields(fields).Debugf("span %s", span.Name())
	}
	return nil
}

func (l *LogExporter) Shutdown(context.Context) error { return nil }
