package httpx

import (
	"net/http"
	"time"

	"qrdrop/internal/observability/middleware"
)

// LogRequests logs method, path and latency once the handler returns. Long
// polls show up with their full wait as latency.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		middleware.Logger(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"latency", time.Since(start),
		)
	})
}

// Forbidden is the single response shape for every rejected request.
func Forbidden(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "403 Forbidden", http.StatusForbidden)
}
