// internal/telemetry/tracer.go
// Package telemetry configures OpenTelemetry tracing for the evidence service.
// Spans are exported to stdout; handlers and the analysis pipeline obtain
// tracers through Tracer.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies the evidence service in traces.
const ServiceName = "evidence-analyzer"

// Options describes the service being traced.
type Options struct {
	ServiceName string
	Version     string
	Environment string    // recorded as deployment.environment; "dev" also pretty-prints spans
	Output      io.Writer // defaults to os.Stdout
}

// TracerProvider is the provider installed by the last InitTracer call.
var TracerProvider *sdktrace.TracerProvider

// InitTracer installs a batching stdout tracer provider as the global
// provider, with W3C trace-context and baggage propagation.
func InitTracer(opts Options) (*sdktrace.TracerProvider, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(out)}
	if opts.Environment == "dev" {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.Version),
	}
	if opts.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", opts.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	TracerProvider = tp
	return tp, nil
}

// Tracer returns a named tracer from the global provider. Before InitTracer
// runs this is a no-op tracer.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// ShutdownTracer flushes pending spans and stops the provider.
func ShutdownTracer(ctx context.Context) {
	if TracerProvider == nil {
		return
	}
	if err := TracerProvider.Shutdown(ctx); err != nil {
		slog.Error("error shutting down tracer provider", "error", err)
	}
	TracerProvider = nil
}
