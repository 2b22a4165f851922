// Package telemetry wires optional OTLP trace export for turn
// processing (spec.md §9's cross-cutting concerns, extended with
// tracing the way the teacher's internal/config.TelemetryConfig implies
// it would be wired, since no example in the pack carries a complete
// internal/tracing package to copy from).
//
// Grounded on the teacher's internal/config.go TelemetryConfig.Endpoint
// field (an OTLP collector address) and go.mod's already-present
// go.opentelemetry.io/otel/* stack; the setup itself follows the
// upstream OTel SDK's own documented HTTP-exporter wiring, since that is
// the only available reference for actually constructing a
// TracerProvider.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Setup installs a global OTLP/HTTP tracer provider when endpoint is
// non-empty; otherwise it leaves OTel's default no-op provider in place
// and returns a no-op shutdown. Callers always defer the returned
// shutdown func.
func Setup(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if serviceName == "" {
		serviceName = "pocketpaw"
	}

	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the orchestrator's tracer. Safe to call before Setup —
// OTel's global provider defaults to a no-op implementation.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/pocketpaw/pocketpaw/internal/agent")
}
