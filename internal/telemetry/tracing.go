package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/oriys/nova-consolidator/internal/consolidator"

// Names of a consolidation pass's timed steps, mirrored in
// internal/history's Timer* constants.
const (
	SpanHostSelectionCpu = "host_selection_cpu"
	SpanHostSelectionIo  = "host_selection_io"
	SpanVmSelection      = "vm_selection"
	SpanVmReallocation   = "vm_reallocation"
	SpanTotal            = "total"
)

// InitTracing configures the global TracerProvider to export spans over
// OTLP/HTTP to endpoint. Call Shutdown on the returned provider at process
// exit. If endpoint is empty, the installed provider has no exporter, so
// spans are not exported anywhere.
func InitTracing(ctx context.Context, endpoint, serviceName string) (*sdktrace.TracerProvider, error) {
	if endpoint == "" {
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the consolidator's tracer off the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StepTimer starts a span named name as a child of ctx, and returns a
// function that ends the span and returns the elapsed wall time in seconds
// — the same value callers append to a history.Recorder timing sequence.
func StepTimer(ctx context.Context, name string) (context.Context, func() float64) {
	spanCtx, span := Tracer().Start(ctx, name)
	start := time.Now()
	return spanCtx, func() float64 {
		elapsed := time.Since(start).Seconds()
		span.End()
		return elapsed
	}
}
