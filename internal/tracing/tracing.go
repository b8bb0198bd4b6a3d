// Package tracing builds the process-wide OpenTelemetry TracerProvider and
// the per-stage span helper the orchestrator uses.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ieeta-pt/hymet/internal/orchestrator"

// NewProvider builds a TracerProvider with a stdout exporter writing to w.
// Swapping the exporter here is the only change needed to ship spans to a
// real OTLP collector later.
func NewProvider(w io.Writer) (*trace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer is the narrow interface the orchestrator uses to open per-stage
// spans; satisfied by oteltrace.Tracer.
type Tracer interface {
	Start(ctx context.Context, spanName string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span)
}

// TracerFrom returns the named tracer from provider p (or the global
// provider if p is nil).
func TracerFrom(p *trace.TracerProvider) Tracer {
	if p == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.Tracer(instrumentationName)
}
