package proto

import "time"

// Corpus event types published on the corpus-events topic.
const (
	CorpusEntriesAdded    = "entries_added"
	CorpusReloadRequested = "reload_requested"
)

// CorpusEvent announces that the stored corpus changed. At is when the change
// was committed.
type CorpusEvent struct {
	Type  string    `json:"type"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}
