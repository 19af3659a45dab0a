package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NewTracer builds the service tracer. With tracing disabled it returns a
// noop tracer and a nil-safe shutdown. The stdout exporter writes spans to w
// as JSON lines; a nil w defaults to stdout.
func NewTracer(enabled bool, w io.Writer) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer("pendo"), func(context.Context) error { return nil }, nil
	}

	opts := []stdouttrace.Option{}
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return provider.Tracer("pendo"), provider.Shutdown, nil
}
