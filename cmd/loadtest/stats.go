package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

// sample is the outcome of one HTTP round trip. A batch request carries one
// prediction per query it sent.
type sample struct {
	latency     time.Duration
	status      int
	err         error
	predictions []prediction
}

type prediction struct {
	label    string
	expected string
	cacheHit bool
}

// Stats aggregates samples from all workers.
type Stats struct {
	mu          sync.Mutex
	requests    int64
	failures    int64
	queries     int64
	cacheHits   int64
	labelled    int64
	correct     int64
	latencies   []time.Duration
	statusCodes map[int]int64
	labels      map[string]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 1<<14),
		statusCodes: make(map[int]int64),
		labels:      make(map[string]int64),
	}
}

func (s *Stats) Record(smp sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if smp.err != nil {
		s.failures++
		return
	}
	s.statusCodes[smp.status]++
	if smp.status < 200 || smp.status >= 300 {
		s.failures++
		return
	}
	s.latencies = append(s.latencies, smp.latency)
	for _, p := range smp.predictions {
		s.queries++
		s.labels[p.label]++
		if p.cacheHit {
			s.cacheHits++
		}
		if p.expected != "" {
			s.labelled++
			if p.expected == p.label {
				s.correct++
			}
		}
	}
}

// Report is the summary printed at the end of a run.
type Report struct {
	Requests      int64            `json:"requests"`
	Failures      int64            `json:"failures"`
	ErrorRate     float64          `json:"error_rate"`
	RequestsPerS  float64          `json:"requests_per_second"`
	QueriesPerS   float64          `json:"queries_per_second"`
	CacheHitRate  float64          `json:"cache_hit_rate"`
	Accuracy      *float64         `json:"accuracy,omitempty"`
	Latency       LatencySummary   `json:"latency"`
	StatusCodes   map[int]int64    `json:"status_codes"`
	Labels        map[string]int64 `json:"labels"`
	ElapsedMillis int64            `json:"elapsed_ms"`
}

type LatencySummary struct {
	Min    time.Duration `json:"min"`
	Mean   time.Duration `json:"mean"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Max    time.Duration `json:"max"`
	StdDev time.Duration `json:"stddev"`
}

func (s *Stats) Report(elapsed time.Duration) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Report{
		Requests:      s.requests,
		Failures:      s.failures,
		StatusCodes:   maps.Clone(s.statusCodes),
		Labels:        maps.Clone(s.labels),
		Latency:       summarize(slices.Clone(s.latencies)),
		ElapsedMillis: elapsed.Milliseconds(),
	}
	if s.requests > 0 {
		r.ErrorRate = float64(s.failures) / float64(s.requests)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		r.RequestsPerS = float64(s.requests) / secs
		r.QueriesPerS = float64(s.queries) / secs
	}
	if s.queries > 0 {
		r.CacheHitRate = float64(s.cacheHits) / float64(s.queries)
	}
	if s.labelled > 0 {
		acc := float64(s.correct) / float64(s.labelled)
		r.Accuracy = &acc
	}
	return r
}

func summarize(latencies []time.Duration) LatencySummary {
	if len(latencies) == 0 {
		return LatencySummary{}
	}
	slices.Sort(latencies)
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	mean := sum / time.Duration(len(latencies))
	var sq float64
	for _, l := range latencies {
		d := float64(l - mean)
		sq += d * d
	}
	return LatencySummary{
		Min:    latencies[0],
		Mean:   mean,
		P50:    percentile(latencies, 50),
		P90:    percentile(latencies, 90),
		P95:    percentile(latencies, 95),
		P99:    percentile(latencies, 99),
		Max:    latencies[len(latencies)-1],
		StdDev: time.Duration(math.Sqrt(sq / float64(len(latencies)))),
	}
}

// percentile uses the nearest-rank method on a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

func (r Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (r Report) WriteText(w io.Writer) {
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Requests:        %d\n", r.Requests)
	fmt.Fprintf(w, "Failures:        %d (%.2f%%)\n", r.Failures, r.ErrorRate*100)
	fmt.Fprintf(w, "Requests/sec:    %.2f\n", r.RequestsPerS)
	fmt.Fprintf(w, "Queries/sec:     %.2f\n", r.QueriesPerS)
	fmt.Fprintf(w, "Cache Hit Rate:  %.2f%%\n", r.CacheHitRate*100)
	if r.Accuracy != nil {
		fmt.Fprintf(w, "Accuracy:        %.2f%%\n", *r.Accuracy*100)
	}

	l := r.Latency
	fmt.Fprintln(w, "\n=== Latency ===")
	for _, row := range []struct {
		name string
		v    time.Duration
	}{
		{"Min", l.Min}, {"Mean", l.Mean}, {"P50", l.P50}, {"P90", l.P90},
		{"P95", l.P95}, {"P99", l.P99}, {"Max", l.Max}, {"StdDev", l.StdDev},
	} {
		fmt.Fprintf(w, "%-7s %s\n", row.name+":", row.v)
	}

	fmt.Fprintln(w, "\n=== Status Codes ===")
	for _, code := range slices.Sorted(maps.Keys(r.StatusCodes)) {
		fmt.Fprintf(w, "  %d: %d\n", code, r.StatusCodes[code])
	}
	if len(r.Labels) > 0 {
		fmt.Fprintln(w, "\n=== Labels ===")
		for _, label := range slices.Sorted(maps.Keys(r.Labels)) {
			fmt.Fprintf(w, "  %-20s %d\n", label, r.Labels[label])
		}
	}
}
