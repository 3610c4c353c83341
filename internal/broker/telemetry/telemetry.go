// Package telemetry installs the process wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config selects the trace exporter.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Exporter is ExporterNone or ExporterStdout.
	Exporter string

	// SampleRatio is the fraction of root spans kept. Values outside (0, 1)
	// keep every span.
	SampleRatio float64

	// Writer receives stdout exports. Defaults to os.Stderr so spans do not
	// interleave with the JSON logs on stdout.
	Writer io.Writer
}

// Provider owns the installed tracer provider.
type Provider struct {
	shutdown func(ctx context.Context) error
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// New installs a tracer provider for cfg and the W3C propagators.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	switch cfg.Exporter {
	case "", ExporterNone:
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)

	return &Provider{shutdown: tp.Shutdown}, nil
}
