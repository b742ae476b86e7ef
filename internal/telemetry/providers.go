package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProvidersConfig configures the OTLP exporters installed by [InitProviders].
type ProvidersConfig struct {
	ServiceName    string
	ServiceVersion string

	// TraceSampleRatio is the fraction of traces that are sampled.
	TraceSampleRatio float64
	// MetricInterval is the period of the metric reader.
	MetricInterval time.Duration
}

func NewDefaultProvidersConfig(serviceName string) *ProvidersConfig {
	return &ProvidersConfig{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",

		TraceSampleRatio: 0.05,
		MetricInterval:   time.Second,
	}
}

// InitProviders installs the global tracer and meter providers,
// exporting traces over OTLP/gRPC and metrics over OTLP/HTTP.
// The returned function flushes and shuts down both providers.
func InitProviders(ctx context.Context, cfg *ProvidersConfig) (func(context.Context) error, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio)),
	)

	meterExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, errors.Join(err, tracerProvider.Shutdown(ctx))
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(meterExporter, sdkmetric.WithInterval(cfg.MetricInterval)),
		),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
		)
	}

	return shutdown, nil
}

func newResource(cfg *ProvidersConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}
