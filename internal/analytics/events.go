package analytics

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
)

type EventType string

const (
	EventClassify EventType = "classify"
	EventIngest   EventType = "ingest"
	EventReload   EventType = "reload"
)

// Outcome values for ClassifyEvent.
const (
	OutcomeLabeled = "labeled"
	OutcomeUnknown = "unknown"
	OutcomeError   = "error"
)

type ClassifyEvent struct {
	Type          EventType `json:"type"`
	Label         string    `json:"label,omitempty"`
	Outcome       string    `json:"outcome"`
	Neighbors     int       `json:"neighbors"`
	QueryBytes    int       `json:"query_bytes"`
	LatencyMs     int64     `json:"latency_ms"`
	CacheHit      bool      `json:"cache_hit"`
	CorpusVersion string    `json:"corpus_version"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
}

type IngestEvent struct {
	Type      EventType `json:"type"`
	Entries   int       `json:"entries"`
	Skipped   int       `json:"skipped"`
	Labels    []string  `json:"labels"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type ReloadEvent struct {
	Type          EventType `json:"type"`
	Success       bool      `json:"success"`
	CorpusSize    int       `json:"corpus_size"`
	CorpusVersion string    `json:"corpus_version,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// Envelope wraps an analytics event for Kafka. The event type becomes both
// the message key and the event-type header, and is filled into the event
// when the caller left it empty. Unknown values are sent under "analytics".
func Envelope(event any) kafka.Event {
	var t EventType
	switch e := event.(type) {
	case ClassifyEvent:
		e.Type, t = EventClassify, EventClassify
		event = e
	case IngestEvent:
		e.Type, t = EventIngest, EventIngest
		event = e
	case ReloadEvent:
		e.Type, t = EventReload, EventReload
		event = e
	default:
		return kafka.Event{Key: "analytics", Value: event}
	}
	return kafka.Event{Key: string(t), Type: string(t), Value: event}
}
