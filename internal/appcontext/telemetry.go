package appcontext

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig controls the OpenTelemetry SDK providers behind the
// logger. When Enabled is false the logger keeps its no-op providers and
// none of the SDK machinery is constructed.
type TelemetryConfig struct {
	Enabled bool `conf:"enabled" default:"false"`

	// Endpoint is an OTLP/HTTP collector endpoint (host:port). Empty means
	// spans are written to stdout instead of exported.
	Endpoint string `conf:"endpoint"`

	SampleRatio float64 `conf:"sample_ratio" default:"1.0"`

	// MetricInterval is how often the periodic reader flushes gauges and
	// counters to the exporter.
	MetricInterval time.Duration `conf:"metric_interval" default:"30s"`
}

// initTelemetry replaces the logger's no-op providers with SDK-backed
// trace/metric/log providers. The returned shutdown func flushes pending
// batches; callers defer it for the lifetime of the process role.
func (a *AppContext) initTelemetry(ctx context.Context) error {
	cfg := &a.Config.Telemetry

	if !cfg.Enabled {
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(a.Config.DaemonProcessName),
		),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	traceExporter, err := buildTraceExporter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	logExporter, err := stdoutlog.New()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(cfg.MetricInterval),
		)),
		sdkmetric.WithResource(res),
	)

	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	a.Logger.
		WithTracerProvider(tracerProvider).
		WithMeterProvider(meterProvider).
		WithLoggerProvider(loggerProvider)

	a.telemetryShutdown = func(ctx context.Context) error {
		var errs []error

		if err := tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		if err := meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		if err := loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		if len(errs) > 0 {
			return fmt.Errorf("telemetry shutdown: %w", errs[0])
		}

		return nil
	}

	return nil
}

func buildTraceExporter(ctx context.Context, cfg *TelemetryConfig) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}

		return exporter, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}

	return exporter, nil
}
