// Package tracing configures OpenTelemetry distributed tracing, grounded on
// tbourn-chatbot's internal/observability/otel.go SetupOTel: an OTLP/gRPC
// exporter feeding a batching TracerProvider, no-op when no endpoint is
// configured so the module runs standalone without a collector.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "reservation-agent"

// Shutdown function returned by Setup; safe to call even when tracing was
// never enabled.
type Shutdown func(context.Context) error

// Setup configures the global TracerProvider against endpoint. An empty
// endpoint disables tracing entirely (spec's ambient stack is carried, but
// exporting spans nowhere would just be overhead).
func Setup(ctx context.Context, endpoint, version string) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the module's named tracer for manual spans around
// orchestrator/platform/sniper operations (SPEC_FULL §A).
func Tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}
