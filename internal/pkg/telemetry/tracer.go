package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/samirrijal/geoproof"

// Span attribute keys. Coordinates are never attached to spans.
const (
	AttrStage      = attribute.Key("geoproof.stage")
	AttrGeofenceID = attribute.Key("geoproof.geofence_id")
	AttrAttemptID  = attribute.Key("geoproof.attempt_id")
	AttrContract   = attribute.Key("geoproof.contract")
	AttrEntryPoint = attribute.Key("geoproof.entry_point")
	AttrFeltCount  = attribute.Key("geoproof.felt_count")
	AttrCategory   = attribute.Key("geoproof.error_category")
)

// InitTracer installs a batching OTLP/gRPC exporter as the global tracer
// provider. The returned func flushes and shuts it down.
func InitTracer(ctx context.Context, serviceName, endpoint string) (func(), error) {
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}, nil
}

// Tracer returns the process tracer. It is a no-op until InitTracer runs.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartStage opens a span for one pipeline stage.
func StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrStage.String(stage))
	return Tracer().Start(ctx, "pipeline."+stage, trace.WithAttributes(attrs...))
}

// EndStage records err (if any) on the span and ends it.
func EndStage(span trace.Span, err error, category string) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if category != "" {
			span.SetAttributes(AttrCategory.String(category))
		}
	}
	span.End()
}
