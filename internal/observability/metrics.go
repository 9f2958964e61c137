package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsConfig configures the Prometheus-backed OTel MeterProvider.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Enabled        bool
}

// MetricsProvider owns the process-wide OTel MeterProvider and exposes the
// HTTP metrics used by the ambient demonstration layer (cmd/feed-service);
// internal/feed constructs its own orders-accepted/rejected counters
// directly against the same global meter.
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
}

// NewMetricsProvider constructs a MetricsProvider. When cfg.Enabled is
// false, it returns a provider whose methods are safe no-ops.
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter(cfg.ServiceName)

	mp := &MetricsProvider{meterProvider: meterProvider, meter: meter, registry: registry}
	if err := mp.initialize(); err != nil {
		return nil, fmt.Errorf("observability: initialize metrics: %w", err)
	}
	return mp, nil
}

func (mp *MetricsProvider) initialize() error {
	var err error
	mp.httpRequestsTotal, err = mp.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("total HTTP requests served by the feed service"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}
	mp.httpRequestDuration, err = mp.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	return err
}

// Meter returns the provider's meter, for packages (e.g. internal/feed)
// that register their own instruments against the same MeterProvider.
func (mp *MetricsProvider) Meter() metric.Meter { return mp.meter }

// RecordHTTPRequest records one completed HTTP request's outcome and
// latency. A no-op if metrics are disabled.
func (mp *MetricsProvider) RecordHTTPRequest(method, route string, status int, seconds float64) {
	if mp.httpRequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", fmt.Sprintf("%d", status)),
	)
	ctx := context.Background()
	mp.httpRequestsTotal.Add(ctx, 1, attrs)
	mp.httpRequestDuration.Record(ctx, seconds, attrs)
}

// Handler exposes the Prometheus scrape endpoint.
func (mp *MetricsProvider) Handler() http.Handler {
	if mp.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{})
}
