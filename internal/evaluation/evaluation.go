// Package evaluation measures classifier accuracy against a labelled test
// set.
package evaluation

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
)

// LabelStats counts outcomes for one expected label.
type LabelStats struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

// Accuracy returns Correct/Total, or 0 for an empty label.
func (s LabelStats) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total)
}

// Report summarises an evaluation run. Confusion is keyed by expected then
// predicted label.
type Report struct {
	Total     int                       `json:"total"`
	Correct   int                       `json:"correct"`
	PerLabel  map[string]LabelStats     `json:"per_label"`
	Confusion map[string]map[string]int `json:"confusion"`
}

// Accuracy returns the overall fraction of correct predictions.
func (r *Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Labels returns the expected labels in sorted order.
func (r *Report) Labels() []string {
	labels := make([]string, 0, len(r.PerLabel))
	for l := range r.PerLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Evaluate classifies every test entry with up to concurrency goroutines and
// tallies the predictions. The first classification failure aborts the run.
func Evaluate(ctx context.Context, c *classifier.Classifier, test []corpus.Entry, concurrency int) (*Report, error) {
	predicted := make([]string, len(test))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, e := range test {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			label, err := c.Classify(e.Text)
			if err != nil {
				return fmt.Errorf("test row %d: %w", i+1, err)
			}
			predicted[i] = label
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Report{
		Total:     len(test),
		PerLabel:  make(map[string]LabelStats),
		Confusion: make(map[string]map[string]int),
	}
	for i, e := range test {
		s := r.PerLabel[e.Label]
		s.Total++
		if predicted[i] == e.Label {
			s.Correct++
			r.Correct++
		}
		r.PerLabel[e.Label] = s

		row := r.Confusion[e.Label]
		if row == nil {
			row = make(map[string]int)
			r.Confusion[e.Label] = row
		}
		row[predicted[i]]++
	}
	return r, nil
}
