package vote

import "sort"

// Record is the distance from a query to the corpus entry at Index.
type Record struct {
	Index    int
	Distance float64
}

// Rank sorts records by ascending distance. Equal distances keep their
// original (corpus) order.
func Rank(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Distance < records[j].Distance
	})
}

// Nearest returns the first min(k, len(records)) ranked records.
func Nearest(records []Record, k int) []Record {
	if k < 0 {
		k = 0
	}
	if k > len(records) {
		k = len(records)
	}
	return records[:k]
}

// Majority picks the most frequent label. labels must be ordered from the
// closest neighbour outwards; on a count tie the label seen first wins.
func Majority(labels []string) (string, map[string]int) {
	counts := make(map[string]int, len(labels))
	best := 0
	for _, l := range labels {
		counts[l]++
		if counts[l] > best {
			best = counts[l]
		}
	}
	for _, l := range labels {
		if counts[l] == best {
			return l, counts
		}
	}
	return "", counts
}
