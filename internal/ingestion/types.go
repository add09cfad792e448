// Package ingestion defines the request and response types of the corpus
// ingestion service, which appends labelled entries to the stored corpus.
package ingestion

// Entry statuses reported to callers.
const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

// EntryRequest is the JSON body accepted by POST /api/v1/corpus/entries.
type EntryRequest struct {
	Text           string `json:"text"`
	Label          string `json:"label"`
	IdempotencyKey string `json:"idempotency_key"`
}

// EntryResponse is returned after an entry is stored. Position is the
// entry's place in corpus order.
type EntryResponse struct {
	Position int64  `json:"position"`
	Status   string `json:"status"`
}

// ImportResponse is returned after a CSV import.
type ImportResponse struct {
	Accepted int      `json:"accepted"`
	Labels   []string `json:"labels"`
}
