package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

const defaultTopLabels = 10

type AggregatedStats struct {
	TotalClassifications int64        `json:"total_classifications"`
	LabeledCount         int64        `json:"labeled_count"`
	UnknownCount         int64        `json:"unknown_count"`
	ErrorCount           int64        `json:"error_count"`
	CacheHits            int64        `json:"cache_hits"`
	CacheMisses          int64        `json:"cache_misses"`
	CacheHitRate         float64      `json:"cache_hit_rate"`
	EntriesIngested      int64        `json:"entries_ingested"`
	Reloads              int64        `json:"reloads"`
	FailedReloads        int64        `json:"failed_reloads"`
	CorpusVersion        string       `json:"corpus_version,omitempty"`
	AvgLatencyMs         float64      `json:"avg_latency_ms"`
	P50LatencyMs         int64        `json:"p50_latency_ms"`
	P95LatencyMs         int64        `json:"p95_latency_ms"`
	P99LatencyMs         int64        `json:"p99_latency_ms"`
	TopLabels            []LabelCount `json:"top_labels"`
	ClassifiedPerMinute  float64      `json:"classified_per_minute"`
}

type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Aggregator folds analytics events into running totals.
type Aggregator struct {
	mu            sync.RWMutex
	total         int64
	labeled       int64
	unknown       int64
	errors        int64
	cacheHits     int64
	cacheMisses   int64
	ingested      int64
	reloads       int64
	failedReloads int64
	corpusVersion string
	latencies     []int64
	next          int
	labelCounts   map[string]int64
	startTime     time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:   make([]int64, 0, 1024),
		labelCounts: make(map[string]int64),
		startTime:   time.Now(),
		logger:      slog.Default().With("component", "analytics-aggregator"),
	}
}

// Handle is a kafka.MessageHandler that records one event. The event type is
// taken from the message key and, for keys that name no type, from the
// body's type field. Undecodable messages are logged and acknowledged.
func (a *Aggregator) Handle(ctx context.Context, key []byte, value []byte) error {
	eventType := EventType(key)
	switch eventType {
	case EventClassify, EventIngest, EventReload:
	default:
		var envelope struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			a.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		eventType = envelope.Type
	}
	switch eventType {
	case EventClassify:
		event, err := kafka.DecodeJSON[ClassifyEvent](value)
		if err != nil {
			a.logger.Error("failed to decode classify event", "error", err)
			return nil
		}
		a.RecordClassify(event)
	case EventIngest:
		event, err := kafka.DecodeJSON[IngestEvent](value)
		if err != nil {
			a.logger.Error("failed to decode ingest event", "error", err)
			return nil
		}
		a.RecordIngest(event)
	case EventReload:
		event, err := kafka.DecodeJSON[ReloadEvent](value)
		if err != nil {
			a.logger.Error("failed to decode reload event", "error", err)
			return nil
		}
		a.RecordReload(event)
	default:
		a.logger.Warn("ignoring analytics event of unknown type", "type", eventType)
	}
	return nil
}

func (a *Aggregator) RecordClassify(event ClassifyEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	switch event.Outcome {
	case OutcomeError:
		a.errors++
	case OutcomeUnknown:
		a.unknown++
	default:
		a.labeled++
		a.labelCounts[event.Label]++
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	if event.CorpusVersion != "" {
		a.corpusVersion = event.CorpusVersion
	}

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

func (a *Aggregator) RecordIngest(event IngestEvent) {
	a.mu.Lock()
	a.ingested += int64(event.Entries)
	a.mu.Unlock()
}

func (a *Aggregator) RecordReload(event ReloadEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reloads++
	if !event.Success {
		a.failedReloads++
		return
	}
	a.corpusVersion = event.CorpusVersion
}

// Snapshot is the persisted form of an Aggregator. LabelCounts holds every
// label, not just the top ones listed in Stats.
type Snapshot struct {
	Stats       AggregatedStats  `json:"stats"`
	LabelCounts map[string]int64 `json:"label_counts"`
	TakenAt     time.Time        `json:"taken_at"`
}

// Snapshot captures the current totals and the full label histogram.
func (a *Aggregator) Snapshot() Snapshot {
	stats := a.Stats()
	a.mu.RLock()
	counts := make(map[string]int64, len(a.labelCounts))
	for label, n := range a.labelCounts {
		counts[label] = n
	}
	a.mu.RUnlock()
	return Snapshot{Stats: stats, LabelCounts: counts, TakenAt: time.Now().UTC()}
}

// Restore seeds the running totals from a persisted snapshot. Latency samples
// are not persisted and start empty. Snapshots without a label histogram
// fall back to their top labels.
func (a *Aggregator) Restore(snap Snapshot) {
	stats := snap.Stats
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = stats.TotalClassifications
	a.labeled = stats.LabeledCount
	a.unknown = stats.UnknownCount
	a.errors = stats.ErrorCount
	a.cacheHits = stats.CacheHits
	a.cacheMisses = stats.CacheMisses
	a.ingested = stats.EntriesIngested
	a.reloads = stats.Reloads
	a.failedReloads = stats.FailedReloads
	a.corpusVersion = stats.CorpusVersion
	clear(a.labelCounts)
	if len(snap.LabelCounts) > 0 {
		for label, n := range snap.LabelCounts {
			a.labelCounts[label] = n
		}
		return
	}
	for _, lc := range stats.TopLabels {
		a.labelCounts[lc.Label] = lc.Count
	}
}

// Stats returns the current totals with the ten most frequent labels.
func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsTop(defaultTopLabels)
}

// StatsTop is Stats with the top-label list cut to n entries.
func (a *Aggregator) StatsTop(n int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalClassifications: a.total,
		LabeledCount:         a.labeled,
		UnknownCount:         a.unknown,
		ErrorCount:           a.errors,
		CacheHits:            a.cacheHits,
		CacheMisses:          a.cacheMisses,
		EntriesIngested:      a.ingested,
		Reloads:              a.reloads,
		FailedReloads:        a.failedReloads,
		CorpusVersion:        a.corpusVersion,
	}
	if lookups := a.cacheHits + a.cacheMisses; lookups > 0 {
		stats.CacheHitRate = float64(a.cacheHits) / float64(lookups)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopLabels = topN(a.labelCounts, n)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.ClassifiedPerMinute = float64(stats.TotalClassifications) / elapsed
	}
	return stats
}

// LabelCount returns how many classifications produced label.
func (a *Aggregator) LabelCount(label string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.labelCounts[label]
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count descending, then label ascending.
func topN(counts map[string]int64, n int) []LabelCount {
	result := make([]LabelCount, 0, len(counts))
	for label, count := range counts {
		result = append(result, LabelCount{Label: label, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Label < result[j].Label
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
