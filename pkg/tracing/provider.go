package tracing

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

// Setup installs a global tracer provider. With otlp nil spans go to the debug log.
// The returned func flushes and shuts the provider down.
func Setup(ctx context.Context, serviceName string, otlp *exporters.OTLPConfig, logger ectologger.Logger) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter = &exporters.LogExporter{Logger: logger}
	if otlp != nil {
		exp, err := exporters.NewOTLPExporter(ctx, *otlp)
		if err != nil {
			return nil, err
		}
		exporter = exp
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(serviceName))

	return provider.Shutdown, nil
}

// InjectHeaders writes the W3C trace headers for ctx into h.
func InjectHeaders(ctx context.Context, h http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(h))
}
