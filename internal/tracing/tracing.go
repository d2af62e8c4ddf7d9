// Package tracing configures OpenTelemetry for the relay.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Name is the instrumentation scope and service name.
const Name = "longrelay"

// Tracer returns the relay tracer from the global provider. Until Setup
// installs an exporter this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(Name)
}

// Setup installs a batching OTLP/HTTP exporter for endpoint and returns its
// shutdown function. An empty endpoint leaves tracing disabled.
func Setup(ctx context.Context, endpoint, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	provider := NewProvider(sdktrace.WithBatcher(exporter), version)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// NewProvider builds a tracer provider tagged with the service resource.
func NewProvider(opt sdktrace.TracerProviderOption, version string) *sdktrace.TracerProvider {
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(Name),
		semconv.ServiceVersion(version),
	)
	return sdktrace.NewTracerProvider(opt, sdktrace.WithResource(res))
}
