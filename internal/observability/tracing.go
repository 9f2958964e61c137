package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracingConfig configures the Jaeger-backed TracerProvider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	// SampleRatio is the fraction of traces kept, in (0,1). Zero or
	// outside that range samples every span, which fits the reference
	// deployment: a single ingestion process whose trace volume is
	// bounded by its own request rate, not by a shared collector's
	// capacity. Set a fraction when chaining to a Jaeger collector that
	// serves more than this one process.
	SampleRatio float64
}

// TracingProvider manages the process-wide OpenTelemetry tracer.
type TracingProvider struct {
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewTracingProvider builds a TracerProvider exporting spans to Jaeger and
// installs it as the global tracer provider.
func NewTracingProvider(cfg TracingConfig) (*TracingProvider, error) {
	exp, err := newJaegerExporter(cfg.JaegerEndpoint)
	if err != nil {
		return nil, err
	}
	res, err := newServiceResource(cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
		trace.WithSampler(samplerFor(cfg.SampleRatio)),
	)
	registerGlobalPropagation(tp)

	return &TracingProvider{provider: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

func newJaegerExporter(endpoint string) (*jaeger.Exporter, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, fmt.Errorf("observability: create jaeger exporter: %w", err)
	}
	return exp, nil
}

func newServiceResource(name, version string) (*resource.Resource, error) {
	if version == "" {
		version = "dev"
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}
	return res, nil
}

// samplerFor keeps every span when ratio falls outside (0,1) and applies
// parent-based ratio sampling otherwise.
func samplerFor(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.AlwaysSample()
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}

func registerGlobalPropagation(tp *trace.TracerProvider) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Tracer returns the service's tracer.
func (tp *TracingProvider) Tracer() oteltrace.Tracer { return tp.tracer }

// Shutdown flushes pending spans and stops the provider.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	return tp.provider.Shutdown(ctx)
}
