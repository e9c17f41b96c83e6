// Package telemetry provides OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Options configures the tracer provider.
type Options struct {
	ServiceName string
	// Endpoint is an OTLP/HTTP collector address (host:port). Empty selects
	// the stdout exporter.
	Endpoint string
	// Insecure sends OTLP over plain HTTP.
	Insecure bool
	// StdoutWriter receives spans from the stdout exporter. Defaults to
	// os.Stderr so command output on stdout stays parseable.
	StdoutWriter io.Writer
	// Exporters replace the exporter built from Endpoint when set.
	Exporters []sdktrace.SpanExporter
}

// NewExporter builds the span exporter selected by opts: OTLP/HTTP when an
// endpoint is configured, pretty-printed stdout spans otherwise.
func NewExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
		otlpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if opts.Insecure {
			otlpOpts = append(otlpOpts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		return exp, nil
	}
	w := opts.StdoutWriter
	if w == nil {
		w = os.Stderr
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}
	return exp, nil
}

// InitTracerProvider initializes the global trace provider and propagator.
func InitTracerProvider(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporters := opts.Exporters
	if len(exporters) == 0 {
		exp, err := NewExporter(ctx, opts)
		if err != nil {
			return nil, err
		}
		exporters = []sdktrace.SpanExporter{exp}
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, exp := range exporters {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
