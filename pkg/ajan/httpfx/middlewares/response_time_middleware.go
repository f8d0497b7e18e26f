package middlewares

import (
	"fmt"
	"net/http"
	"time"
)

const ResponseTimeHeader = "X-Request-Time"

type responseTimeWriter struct {
	http.ResponseWriter

	start       time.Time
	wroteHeader bool
}

func (w *responseTimeWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.Header().Set(ResponseTimeHeader, time.Since(w.start).String())
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseTimeWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	n, err := w.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("%w", err)
	}

	return n, nil
}

// ResponseTimeMiddleware stamps every response with the elapsed time from
// request start to the first byte written, via the ResponseTimeHeader.
func ResponseTimeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&responseTimeWriter{ResponseWriter: w, start: time.Now(), wroteHeader: false}, r) //nolint:exhaustruct
	})
}
