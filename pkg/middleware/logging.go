package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/metrics"
)

// quietRoutes are polled constantly and only logged at DEBUG.
var quietRoutes = map[string]bool{
	"GET /health": true,
	"GET /ping":   true,
	"/metrics":    true,
}

// RequestLogger returns middleware that logs each request and counts it by
// route pattern. Either argument may be nil.
func RequestLogger(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil && m == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			// ServeMux records the matched pattern on the request.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			if m != nil {
				m.HTTPRequests.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()
			}
			if logger == nil {
				return
			}

			log := logger.Info
			if quietRoutes[route] {
				log = logger.Debug
			}
			log("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
