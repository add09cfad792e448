// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, request timeouts, rate limiting and CORS.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
)

// Metrics records request count, latency and in-flight requests per route.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := routeLabel(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// routeLabel prefers the pattern the mux matched. Requests that reached the
// mux through a copied *http.Request fall back to normalizePath.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		if _, path, ok := strings.Cut(r.Pattern, " "); ok {
			return path
		}
		return r.Pattern
	}
	return normalizePath(r.URL.Path)
}

// placeholders names the path segment that follows each collection.
var placeholders = map[string]string{
	"entries": "{position}",
	"keys":    "{id}",
	"labels":  "{label}",
}

// normalizePath folds identifiers into placeholders and anything outside the
// API and health surfaces into "other".
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/api/v1/") && !strings.HasPrefix(path, "/health") {
		return "other"
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i := 1; i < len(segments); i++ {
		if p, ok := placeholders[segments[i-1]]; ok && segments[i] != "" {
			segments[i] = p
		}
	}
	return "/" + strings.Join(segments, "/")
}
