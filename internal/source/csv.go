package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
)

// ParseCSV reads a corpus in text,label form. The first record is a header
// and is skipped. Records may have any number of fields: a missing text or
// label becomes the empty string and extra fields are ignored.
func ParseCSV(r io.Reader) ([]corpus.Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []corpus.Entry{}, nil
		}
		return nil, readError("reading header", err)
	}

	entries := make([]corpus.Entry, 0, 64)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, readError(fmt.Sprintf("reading record %d", len(entries)+1), err)
		}
		entries = append(entries, corpus.Entry{Text: field(record, 0), Label: field(record, 1)})
	}
}

// readError tags CSV syntax errors with ErrMalformed and passes I/O errors
// through.
func readError(what string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}

// WriteCSV writes entries with a text,label header, the inverse of ParseCSV.
func WriteCSV(w io.Writer, entries []corpus.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"text", "label"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Text, e.Label}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
