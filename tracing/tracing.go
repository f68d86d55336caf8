package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
)

// SetupGlobalTraceProviderAndExporter sets up an OTLP gRPC exporter and a
// batching trace provider, and registers the provider globally. Callers are
// responsible for shutting down both.
func SetupGlobalTraceProviderAndExporter(ctx context.Context) (*otlptrace.Exporter, *sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithInsecure()))
	if err != nil {
		return nil, nil, err
	}
	appName := os.Getenv("APP_NAME")
	if appName == "" {
		appName = "oracle-node"
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(appName),
		)),
	)
	otel.SetTracerProvider(provider)
	return exporter, provider, nil
}
