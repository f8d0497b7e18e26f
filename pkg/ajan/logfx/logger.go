package logfx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/eser/daemonkit"

// Logger wraps a slog.Logger and carries an OpenTelemetry
// LoggerProvider/TracerProvider/MeterProvider triple. All three providers
// default to no-ops (see noop.go) so a Logger is always safe to construct;
// spans and metrics become real once the caller supplies SDK providers
// (e.g. internal/appcontext's initTelemetry). Log records go to the console
// handler only and are not emitted through the LoggerProvider.
type Logger struct {
	inner *slog.Logger

	loggerProvider log.LoggerProvider
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator

	rotate *rotateWriter
}

func NewLogger(config *Config) (*Logger, error) {
	writers := make([]io.Writer, 0, 3) //nolint:mnd

	if config.Stdout {
		writers = append(writers, os.Stdout)
	}

	if config.Stderr {
		writers = append(writers, os.Stderr)
	}

	var rotate *rotateWriter

	if config.RotatePath != "" {
		var err error

		rotate, err = newRotateWriter(config.RotatePath, config.RotateSizeMB, config.RotateAgeDays)
		if err != nil {
			return nil, err
		}

		writers = append(writers, rotate)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	handler := newConsoleHandler(io.MultiWriter(writers...), config)

	logger := &Logger{
		inner:          slog.New(handler),
		loggerProvider: NewNoopLoggerProvider(),
		tracerProvider: NewNoopTracerProvider(),
		meterProvider:  NewNoopMeterProvider(),
		propagator:     propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		rotate:         rotate,
	}

	return logger, nil
}

// WithLoggerProvider, WithTracerProvider, and WithMeterProvider replace the
// default no-op OpenTelemetry providers, typically with an SDK provider
// constructed in internal/appcontext's initTelemetry.
func (l *Logger) WithLoggerProvider(provider log.LoggerProvider) *Logger {
	l.loggerProvider = provider

	return l
}

func (l *Logger) WithTracerProvider(provider trace.TracerProvider) *Logger {
	l.tracerProvider = provider

	return l
}

func (l *Logger) WithMeterProvider(provider metric.MeterProvider) *Logger {
	l.meterProvider = provider

	return l
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.inner.InfoContext(ctx, msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.inner.WarnContext(ctx, msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.inner.ErrorContext(ctx, msg, args...)
}

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.inner.DebugContext(ctx, msg, args...)
}

func (l *Logger) With(args ...any) *Logger {
	clone := *l
	clone.inner = l.inner.With(args...)

	return &clone
}

// StartSpan starts a span named name under this logger's tracer provider,
// returning the derived context and the span (caller must End it).
func (l *Logger) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tracer := l.tracerProvider.Tracer(tracerName)

	return tracer.Start(ctx, name, opts...)
}

// PropagatorInject writes the current span context of ctx into carrier
// (e.g. outbound HTTP request headers), following the W3C traceparent format.
func (l *Logger) PropagatorInject(ctx context.Context, carrier propagation.TextMapCarrier) {
	l.propagator.Inject(ctx, carrier)
}

// PropagatorExtract reads a span context out of carrier (e.g. inbound HTTP
// request headers) and returns a context carrying it.
func (l *Logger) PropagatorExtract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return l.propagator.Extract(ctx, carrier)
}

// NewMetricsBuilder returns a MetricsBuilder over this logger's meter
// provider, scoped to name (typically the calling package, e.g.
// "processfx").
func (l *Logger) NewMetricsBuilder(name string) *MetricsBuilder {
	return &MetricsBuilder{meter: l.meterProvider.Meter(name)}
}

func (l *Logger) Close() error {
	if l.rotate == nil {
		return nil
	}

	if err := l.rotate.Close(); err != nil {
		return fmt.Errorf("failed to close logger: %w", err)
	}

	return nil
}
