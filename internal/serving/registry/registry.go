// Package registry owns the classifier currently used for serving. A reload
// builds a complete new classifier from the corpus source and swaps it in
// atomically; in-flight requests keep using the instance they started with.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/source"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	pkgerrors "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/resilience"
)

// Tracker receives analytics events. *analytics.Collector implements it.
type Tracker interface {
	Track(event any)
}

// Info describes the loaded classifier.
type Info struct {
	Algorithm     string         `json:"algorithm"`
	Level         int            `json:"level"`
	K             int            `json:"k"`
	CorpusSize    int            `json:"corpus_size"`
	Labels        map[string]int `json:"labels"`
	CorpusVersion string         `json:"corpus_version"`
	Source        string         `json:"source"`
	LoadedAt      time.Time      `json:"loaded_at"`
}

type loaded struct {
	clf      *classifier.Classifier
	loadedAt time.Time
}

type Registry struct {
	src     source.Source
	cfg     config.ClassifierConfig
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	tracker Tracker

	current atomic.Pointer[loaded]
	// reloadMu keeps at most one reload in flight.
	reloadMu sync.Mutex
	logger   *slog.Logger
}

// New creates an empty registry. Nothing is served until the first
// successful Reload. m and tracker may be nil.
func New(src source.Source, cfg config.ClassifierConfig, corpusCfg config.CorpusConfig, m *metrics.Metrics, tracker Tracker) *Registry {
	return &Registry{
		src: src,
		cfg: cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:  corpusCfg.LoadAttempts,
			InitialDelay: corpusCfg.LoadBackoff,
			Retryable:    func(err error) bool { return !errors.Is(err, source.ErrMalformed) },
		},
		metrics: m,
		tracker: tracker,
		logger:  slog.Default().With("component", "classifier-registry"),
	}
}

// Current returns the serving classifier, or nil before the first load.
func (r *Registry) Current() *classifier.Classifier {
	if l := r.current.Load(); l != nil {
		return l.clf
	}
	return nil
}

// Ready reports whether a classifier has been loaded.
func (r *Registry) Ready() bool {
	return r.current.Load() != nil
}

// Reload loads the corpus and replaces the serving classifier. On failure the
// previous classifier, if any, stays in place.
func (r *Registry) Reload(ctx context.Context) (*classifier.Classifier, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	start := time.Now()
	clf, err := r.build(ctx)
	latency := time.Since(start)
	if err != nil {
		r.logger.Error("classifier reload failed",
			"source", r.src.Name(),
			"duration", latency,
			"error", err,
		)
		r.observe(false, nil, latency)
		return nil, err
	}

	r.current.Store(&loaded{clf: clf, loadedAt: time.Now()})
	r.logger.Info("classifier reloaded",
		"source", r.src.Name(),
		"entries", clf.Corpus().Size(),
		"version", clf.Version(),
		"duration", latency,
	)
	r.observe(true, clf, latency)
	return clf, nil
}

func (r *Registry) build(ctx context.Context) (*classifier.Classifier, error) {
	entries, err := resilience.Do(ctx, "corpus-load", r.retry, r.src.Load)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pkgerrors.ErrCorpusUnavailable, r.src.Name(), err)
	}
	return classifier.New(entries, r.cfg.Algorithm, r.cfg.Level, r.cfg.K)
}

func (r *Registry) observe(success bool, clf *classifier.Classifier, latency time.Duration) {
	if r.metrics != nil {
		status := "failure"
		if success {
			status = "success"
			r.metrics.CorpusEntries.Set(float64(clf.Corpus().Size()))
		}
		r.metrics.ReloadsTotal.WithLabelValues(status).Inc()
	}
	if r.tracker != nil {
		event := analytics.ReloadEvent{
			Type:      analytics.EventReload,
			Success:   success,
			LatencyMs: latency.Milliseconds(),
			Timestamp: time.Now().UTC(),
		}
		if clf != nil {
			event.CorpusSize = clf.Corpus().Size()
			event.CorpusVersion = clf.Version()
		}
		r.tracker.Track(event)
	}
}

// Info describes the serving classifier. ok is false before the first load.
func (r *Registry) Info() (info Info, ok bool) {
	l := r.current.Load()
	if l == nil {
		return Info{}, false
	}
	cfg := l.clf.Config()
	return Info{
		Algorithm:     cfg.Algorithm.String(),
		Level:         cfg.Level,
		K:             cfg.K,
		CorpusSize:    l.clf.Corpus().Size(),
		Labels:        l.clf.Corpus().LabelCounts(),
		CorpusVersion: l.clf.Version(),
		Source:        r.src.Name(),
		LoadedAt:      l.loadedAt,
	}, true
}

// Check is a readiness check for the health checker.
func (r *Registry) Check(ctx context.Context) health.ComponentHealth {
	info, ok := r.Info()
	if !ok {
		return health.ComponentHealth{Status: health.StatusDown, Message: "no classifier loaded"}
	}
	return health.ComponentHealth{
		Status:  health.StatusUp,
		Message: fmt.Sprintf("%d entries, version %s", info.CorpusSize, info.CorpusVersion),
	}
}
