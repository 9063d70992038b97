package otel

import (
	"context"
	"fmt"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ExporterConfig configures the OTLP trace exporter.
type ExporterConfig struct {
	// Endpoint is the host:port of an OTLP/HTTP collector. Empty disables
	// exporting; SetupTracing then returns a no-op shutdown.
	Endpoint string

	// Insecure uses plain HTTP instead of TLS.
	Insecure bool

	// ServiceName defaults to "adflow".
	ServiceName string
}

// SetupTracing installs a global tracer provider that batches spans to an
// OTLP/HTTP collector. The returned shutdown function flushes pending spans
// and must be called before the process exits.
func SetupTracing(ctx context.Context, cfg ExporterConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "adflow"
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel: create trace exporter: %w", err)
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otelapi.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
