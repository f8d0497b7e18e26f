package middlewares

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpErrorThreshold = 400

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// TracingMiddleware starts an OpenTelemetry span per request (propagating an
// inbound W3C trace-context header, if any), logs start/completion through
// logger, and injects the resulting trace-context into the response.
// Paths in skipLoggingPaths (comma-separated) are traced but not logged.
func TracingMiddleware(logger *logfx.Logger, skipLoggingPaths string) func(http.Handler) http.Handler {
	skip := strings.Split(skipLoggingPaths, ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestCtx := logger.PropagatorExtract(r.Context(), propagation.HeaderCarrier(r.Header))

			newCtx, span := logger.StartSpan(requestCtx, "HTTP Request",
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.path", r.URL.Path),
					attribute.String("http.remote_addr", r.RemoteAddr),
				))
			defer span.End()

			logger.PropagatorInject(newCtx, propagation.HeaderCarrier(w.Header()))

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(newCtx))

			if slices.Contains(skip, r.URL.Path) {
				return
			}

			duration := time.Since(start)
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))

			attrs := []any{
				slog.String("http.method", r.Method),
				slog.String("http.path", r.URL.Path),
				slog.String("user_agent", r.UserAgent()),
				slog.Int("http.status_code", recorder.status),
				slog.Duration("duration", duration),
			}

			if recorder.status >= httpErrorThreshold {
				logger.WarnContext(newCtx, "HTTP request completed with error", attrs...)
			} else {
				logger.DebugContext(newCtx, "HTTP request completed", attrs...)
			}
		})
	}
}
