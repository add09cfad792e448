package middleware

import (
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
)

// RateLimit enforces each key's per-minute budget as a token bucket holding
// one minute of requests. It runs after Auth; requests without KeyInfo are
// passed through for Auth to have rejected. m may be nil.
func RateLimit(l *pkgmw.Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			info := KeyInfo(r.Context())
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !l.AllowRate(info.ID, float64(info.RateLimit)/60, info.RateLimit) {
				if m != nil {
					m.RateLimitedTotal.Inc()
				}
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
