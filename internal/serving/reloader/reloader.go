// Package reloader rebuilds the serving classifier when the stored corpus
// changes. It consumes corpus events published by ingestion.
package reloader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/resilience"
)

type Registry interface {
	Reload(ctx context.Context) (*classifier.Classifier, error)
}

type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

type Reloader struct {
	registry Registry
	cache    Invalidator
	timeout  time.Duration

	mu         sync.Mutex
	lastReload time.Time
	logger     *slog.Logger
}

// New creates a Reloader. cache may be nil when result caching is disabled.
func New(reg Registry, cache Invalidator, timeout time.Duration) *Reloader {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Reloader{
		registry: reg,
		cache:    cache,
		timeout:  timeout,
		logger:   slog.Default().With("component", "corpus-reloader"),
	}
}

// Handle is a kafka.MessageHandler for the corpus-events topic. Events
// committed before the start of the last successful reload are already
// reflected in the classifier and are skipped.
func (r *Reloader) Handle(ctx context.Context, key []byte, value []byte) error {
	event, err := kafka.DecodeJSON[proto.CorpusEvent](value)
	if err != nil {
		r.logger.Error("dropping undecodable corpus event", "error", err)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !event.At.IsZero() && event.At.Before(r.lastReload) {
		r.logger.Debug("corpus event already applied",
			"type", event.Type,
			"at", event.At,
			"last_reload", r.lastReload,
		)
		return nil
	}

	started := time.Now()
	c, err := resilience.Bounded(ctx, r.timeout, "corpus-reload", r.registry.Reload)
	if err != nil {
		return err
	}
	r.lastReload = started
	r.logger.Info("classifier reloaded after corpus change",
		"type", event.Type,
		"count", event.Count,
		"corpus_size", c.Corpus().Size(),
		"version", c.Version(),
		"duration", time.Since(started),
	)

	if r.cache != nil {
		if _, err := r.cache.Invalidate(ctx); err != nil {
			r.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	return nil
}
