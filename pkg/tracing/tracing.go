// Package tracing wires a process-wide OpenTelemetry TracerProvider so the
// Dispatch Pipeline's process(rideId) and cascade rounds and the Earnings
// Finalizer's finalize(rideId) run each open a span tagged with the ride
// id. Only cmd/dispatch installs the provider, and no log line carries
// the trace/span ID.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider wraps the SDK's TracerProvider for shutdown lifecycle management.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init builds and installs the global TracerProvider for serviceName. No
// exporter is wired (go.mod carries the otel API/SDK/trace packages but no
// OTLP exporter — see DESIGN.md), so spans are created, sampled, and
// available to any OTLP processor added later via sdktrace.WithSpanProcessor,
// but aren't shipped anywhere yet; they still get valid trace/span IDs
// worth attaching to log lines for request correlation across services.
func Init(serviceName, environment string) (*Provider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// StartSpan starts a span named for a dispatch-core operation, tagging it
// with the ride it concerns.
func StartSpan(ctx context.Context, tracerName, spanName string, rideID fmt.Stringer) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName)
	span.SetAttributes(attribute.String("ride.id", rideID.String()))
	return ctx, span
}
