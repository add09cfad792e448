// Package corpus holds the labelled training set a classifier compares
// queries against. A Corpus is built once and never changes afterwards.
package corpus

import (
	"fmt"
	"iter"
)

// Entry is one labelled training text.
type Entry struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Corpus is an ordered, read-only sequence of entries. Order matters only as
// the tie-break between equally distant entries.
type Corpus struct {
	entries []Entry
}

// New copies entries into a new Corpus.
func New(entries []Entry) *Corpus {
	owned := make([]Entry, len(entries))
	copy(owned, entries)
	return &Corpus{entries: owned}
}

// Size returns the number of entries.
func (c *Corpus) Size() int {
	return len(c.entries)
}

// EntryAt returns the entry at index i. It panics when i is out of range.
func (c *Corpus) EntryAt(i int) Entry {
	if i < 0 || i >= len(c.entries) {
		panic(fmt.Sprintf("corpus: index %d out of range [0,%d)", i, len(c.entries)))
	}
	return c.entries[i]
}

// All yields every entry with its index, from the beginning, each time it is
// ranged over.
func (c *Corpus) All() iter.Seq2[int, Entry] {
	return func(yield func(int, Entry) bool) {
		for i, e := range c.entries {
			if !yield(i, e) {
				return
			}
		}
	}
}

// Labels returns the distinct labels in first-seen order.
func (c *Corpus) Labels() []string {
	seen := make(map[string]struct{})
	labels := make([]string, 0)
	for _, e := range c.entries {
		if _, ok := seen[e.Label]; ok {
			continue
		}
		seen[e.Label] = struct{}{}
		labels = append(labels, e.Label)
	}
	return labels
}

// LabelCounts returns how many entries carry each label.
func (c *Corpus) LabelCounts() map[string]int {
	counts := make(map[string]int)
	for _, e := range c.entries {
		counts[e.Label]++
	}
	return counts
}
