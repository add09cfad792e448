// Package metrics defines the Prometheus metric collectors used by the
// classifier services and exposes an HTTP handler for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the classifier services.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPRequestDuration  *prometheus.HistogramVec
	ClassificationsTotal *prometheus.CounterVec
	ClassifyLatency      *prometheus.HistogramVec
	NeighborsConsidered  prometheus.Histogram
	CorpusEntries        prometheus.Gauge
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	ReloadsTotal         *prometheus.CounterVec
	EntriesIngestedTotal prometheus.Counter
	RateLimitedTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classifications_total",
				Help: "Total classify calls by outcome (labeled, unknown, error).",
			},
			[]string{"outcome"},
		),
		ClassifyLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "classify_latency_seconds",
				Help:    "Classify latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"cache_status"},
		),
		NeighborsConsidered: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "classify_neighbors_considered",
				Help:    "Number of neighbours in the voting set per classification.",
				Buckets: []float64{0, 1, 3, 5, 10, 25, 50, 100},
			},
		),
		CorpusEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "corpus_entries",
				Help: "Number of labelled entries in the loaded corpus.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		ReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "classifier_reloads_total",
				Help: "Total classifier reloads by status.",
			},
			[]string{"status"},
		),
		EntriesIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "corpus_entries_ingested_total",
				Help: "Total labelled entries accepted by ingestion.",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total requests rejected by the rate limiter.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ClassificationsTotal,
		m.ClassifyLatency,
		m.NeighborsConsidered,
		m.CorpusEntries,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ReloadsTotal,
		m.EntriesIngestedTotal,
		m.RateLimitedTotal,
		m.CircuitBreakerState,
	)

	return m
}
