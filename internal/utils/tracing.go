package utils

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used across the application
const TracerName = "github.com/amaumene/debridarr"

// SetupTracing installs a global tracer provider. sampleRatio 0 disables sampling.
func SetupTracing(sampleRatio float64) (shutdown func(context.Context) error) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns the application tracer
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
