// Package classifier assigns labels to texts by k-nearest-neighbour voting
// over a labelled corpus, using Normalized Compression Distance as the
// metric.
//
// A Classifier is immutable once New returns: the corpus, the compressor and
// the neighbour count never change, so any number of goroutines may call
// Classify on the same instance without locking. Reloading a corpus means
// building a new Classifier.
package classifier

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/compressor"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/distance"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/vote"
)

// UnknownLabel is returned for every query when the corpus is empty.
const UnknownLabel = "unknown"

// MaxK bounds the neighbour count accepted by New.
const MaxK = 1 << 16

// Config is the classifier's fixed configuration.
type Config struct {
	Algorithm compressor.Algorithm `json:"algorithm"`
	Level     int                  `json:"level"`
	K         int                  `json:"k"`
}

// Neighbor is one member of the voting set.
type Neighbor struct {
	Index    int     `json:"index"`
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// Result is the outcome of a classification together with the evidence
// behind it.
type Result struct {
	Label     string         `json:"label"`
	Neighbors []Neighbor     `json:"neighbors"`
	Votes     map[string]int `json:"votes"`
}

// Classifier is a loaded, ready-to-query compression-distance classifier.
type Classifier struct {
	cfg     Config
	corpus  *corpus.Corpus
	sizer   distance.Sizer
	engine  *distance.Engine
	sizes   []int
	version string
	logger  *slog.Logger
}

// New builds a Classifier over entries. Unknown algorithm names fall back to
// compressor.DefaultAlgorithm; an out-of-range level or k is an error.
func New(entries []corpus.Entry, algorithmName string, level, k int) (*Classifier, error) {
	algorithm, known := compressor.ParseAlgorithm(algorithmName)
	if !known {
		slog.Default().With("component", "classifier").Warn("unrecognised compression algorithm, using default",
			"requested", algorithmName,
			"default", algorithm,
		)
	}
	cfg := Config{Algorithm: algorithm, Level: level, K: k}
	if err := compressor.ValidateLevel(algorithm, level); err != nil {
		return nil, &ConstructionError{Field: "level", Err: err}
	}
	if k < 1 || k > MaxK {
		return nil, &ConstructionError{Field: "k", Err: fmt.Errorf("%w: must be within 1..%d, got %d", ErrInvalidK, MaxK, k)}
	}
	comp, err := compressor.New(algorithm, level)
	if err != nil {
		return nil, &ConstructionError{Field: "algorithm", Err: err}
	}
	return build(entries, cfg, comp)
}

// build finishes construction once cfg has been validated.
func build(entries []corpus.Entry, cfg Config, sizer distance.Sizer) (*Classifier, error) {
	c := &Classifier{
		cfg:    cfg,
		corpus: corpus.New(entries),
		sizer:  sizer,
		engine: distance.New(sizer),
		logger: slog.Default().With("component", "classifier"),
	}

	// Entry sizes never change, so they are computed once here.
	c.sizes = make([]int, c.corpus.Size())
	for i, e := range c.corpus.All() {
		size, err := sizer.CompressedSize([]byte(e.Text))
		if err != nil {
			return nil, &ConstructionError{Field: "corpus", Err: fmt.Errorf("sizing entry %d: %w", i, err)}
		}
		c.sizes[i] = size
	}
	c.version = fingerprint(cfg, c.corpus)

	c.logger.Info("classifier ready",
		"algorithm", cfg.Algorithm,
		"level", cfg.Level,
		"k", cfg.K,
		"entries", c.corpus.Size(),
		"version", c.version,
	)
	return c, nil
}

// Classify returns the label for query.
func (c *Classifier) Classify(query string) (string, error) {
	res, err := c.Explain(query)
	if err != nil {
		return "", err
	}
	return res.Label, nil
}

// Explain classifies query and returns the neighbours and vote counts that
// decided the label.
func (c *Classifier) Explain(query string) (*Result, error) {
	n := c.corpus.Size()
	if n == 0 {
		return &Result{Label: UnknownLabel, Neighbors: []Neighbor{}, Votes: map[string]int{}}, nil
	}

	q := []byte(query)
	cq, err := c.sizer.CompressedSize(q)
	if err != nil {
		return nil, &ClassificationError{Index: -1, Err: err}
	}

	records := make([]vote.Record, 0, n)
	for i, e := range c.corpus.All() {
		d, err := c.engine.DistanceSized(q, cq, []byte(e.Text), c.sizes[i])
		if err != nil {
			return nil, &ClassificationError{Index: i, Err: err}
		}
		records = append(records, vote.Record{Index: i, Distance: d})
	}

	vote.Rank(records)
	nearest := vote.Nearest(records, c.cfg.K)

	neighbors := make([]Neighbor, len(nearest))
	labels := make([]string, len(nearest))
	for i, r := range nearest {
		label := c.corpus.EntryAt(r.Index).Label
		neighbors[i] = Neighbor{Index: r.Index, Label: label, Distance: r.Distance}
		labels[i] = label
	}
	winner, votes := vote.Majority(labels)

	c.logger.Debug("query classified",
		"label", winner,
		"neighbors", len(nearest),
		"closest_distance", nearest[0].Distance,
	)
	return &Result{Label: winner, Neighbors: neighbors, Votes: votes}, nil
}

// Config returns the configuration the classifier was built with.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Corpus returns the read-only training set.
func (c *Classifier) Corpus() *corpus.Corpus {
	return c.corpus
}

// Version identifies the configuration and corpus content. Two classifiers
// with equal versions answer every query identically.
func (c *Classifier) Version() string {
	return c.version
}

func fingerprint(cfg Config, corp *corpus.Corpus) string {
	h := sha256.New()
	var buf [8]byte
	writeInt := func(v int) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeString := func(s string) {
		writeInt(len(s))
		h.Write([]byte(s))
	}
	writeInt(int(cfg.Algorithm))
	writeInt(cfg.Level)
	writeInt(cfg.K)
	for _, e := range corp.All() {
		writeString(e.Text)
		writeString(e.Label)
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}
