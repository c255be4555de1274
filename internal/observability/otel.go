package observability

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"triagechat/internal/pkg/logger"
)

type Config struct {
	Enabled     bool
	ServiceName string
	Environment string
	Version     string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Init installs the global tracer provider and returns its shutdown func.
// When tracing is disabled the returned func is a no-op and the global
// no-op provider stays in place.
func Init(ctx context.Context, log *logger.Logger, cfg Config) func(context.Context) error {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "triagechat"
	}
	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
			semconv.ServiceVersionKey.String(strings.TrimSpace(cfg.Version)),
		),
	)
	if err != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SampleRatio)))),
		sdktrace.WithResource(res),
	}
	exporter, err := buildExporter(ctx, log, cfg)
	if err != nil {
		log.Warn("otel exporter init failed (continuing)", "error", err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Info("otel tracing initialized", "service", serviceName, "endpoint", cfg.Endpoint)
	return tp.Shutdown
}

func buildExporter(ctx context.Context, log *logger.Logger, cfg Config) (sdktrace.SpanExporter, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	return exp, nil
}

func clampRatio(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
