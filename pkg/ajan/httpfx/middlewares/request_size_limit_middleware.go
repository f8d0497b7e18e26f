package middlewares

import (
	"fmt"
	"net/http"
)

// RequestSizeLimitMiddleware limits the maximum size of incoming request bodies.
// It prevents memory exhaustion attacks via large payloads.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			if r.ContentLength > maxBytes {
				http.Error(w,
					fmt.Sprintf("request body too large, maximum size: %d bytes", maxBytes),
					http.StatusRequestEntityTooLarge)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
