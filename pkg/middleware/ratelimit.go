package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per client key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

// NewLimiter creates a limiter allowing rps requests per second with the given
// burst for every client.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    10 * time.Minute,
	}
}

// Allow consumes one token for key at the limiter's default rate.
func (l *Limiter) Allow(key string) bool {
	return l.allow(key, l.limit, l.burst)
}

// AllowRate consumes one token for key from a bucket refilled at rps with the
// given burst. A key whose budget changes keeps its bucket and adopts the new
// rate.
func (l *Limiter) AllowRate(key string, rps float64, burst int) bool {
	return l.allow(key, rate.Limit(rps), burst)
}

func (l *Limiter) allow(key string, limit rate.Limit, burst int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(limit, burst)}
		l.entries[key] = e
	} else if e.limiter.Limit() != limit || e.limiter.Burst() != burst {
		e.limiter.SetLimitAt(now, limit)
		e.limiter.SetBurstAt(now, burst)
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Prune drops buckets that have been idle for longer than the idle window
// and returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.idle)
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// RateLimit rejects requests over the per-client budget with 429. Clients are
// keyed by X-API-Key when present, otherwise by remote IP. Health endpoints
// are exempt. m may be nil.
func RateLimit(l *Limiter, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			if !l.Allow(clientKey(r)) {
				if m != nil {
					m.RateLimitedTotal.Inc()
				}
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// writeError writes a JSON error response to the client.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
