// Package validator checks corpus entries before they are stored and returns
// per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/ingestion"
)

const (
	MaxTextLength  = 1 << 20
	MaxLabelLength = 256
	maxKeyLength   = 255
	// maxReported caps the row errors reported for one import.
	maxReported = 20
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, e.Fields[k]))
	}
	return strings.Join(parts, "; ")
}

// ValidateEntryRequest checks text, label and idempotency key lengths.
func ValidateEntryRequest(req *ingestion.EntryRequest) error {
	errs := make(map[string]string)
	checkEntry(errs, "", req.Text, req.Label)
	if len(req.IdempotencyKey) > maxKeyLength {
		errs["idempotency_key"] = fmt.Sprintf("idempotency key must be at most %d characters", maxKeyLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateEntries checks every imported row. Rows are numbered from 1,
// excluding the header.
func ValidateEntries(entries []corpus.Entry) error {
	errs := make(map[string]string)
	if len(entries) == 0 {
		errs["rows"] = "import contains no entries"
	}
	for i, e := range entries {
		if len(errs) >= maxReported {
			break
		}
		checkEntry(errs, fmt.Sprintf("row %d ", i+1), e.Text, e.Label)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func checkEntry(errs map[string]string, prefix, text, label string) {
	if strings.TrimSpace(text) == "" {
		errs[prefix+"text"] = "text is required"
	} else if len(text) > MaxTextLength {
		errs[prefix+"text"] = fmt.Sprintf("text must be at most %d bytes", MaxTextLength)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		errs[prefix+"label"] = "label is required"
	} else if len(label) > MaxLabelLength {
		errs[prefix+"label"] = fmt.Sprintf("label must be at most %d characters", MaxLabelLength)
	}
}
