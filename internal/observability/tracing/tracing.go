// Package tracing configures the OpenTelemetry tracer provider and the
// client-side instrumentation used for upstream calls.
package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/majidisaloo/easydcim-traffic/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("tracing",
	fx.Provide(NewProvider),
	// Providers are lazy; force construction so the global provider is
	// installed at startup.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

// NewProvider configures the global tracer provider. When tracing is
// disabled a noop provider is installed and nil is returned.
func NewProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return nil, nil
	}

	endpoint := strings.TrimSpace(cfg.Tracing.ExporterEndpoint)
	protocol := strings.ToLower(strings.TrimSpace(cfg.Tracing.ExporterProtocol))

	exporter, err := newExporter(protocol, endpoint)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.Tracing.SamplingRatio)))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down tracer provider")
			return provider.Shutdown(ctx)
		},
	})

	log.Info("tracing initialized",
		zap.String("endpoint", endpoint),
		zap.String("protocol", protocol),
	)
	return provider, nil
}

// Tracer returns the engine's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("easydcim-traffic/reconcile")
}

func newExporter(protocol, endpoint string) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch protocol {
	case "http", "http/protobuf":
		opts := []otlptracehttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

func clampRatio(value float64) float64 {
	if value <= 0 {
		return 0.1
	}
	if value > 1 {
		return 1
	}
	return value
}
