// Package cache stores classification results in Redis. Keys are scoped by
// the classifier version, so a reload never serves results computed against
// an older corpus.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/resilience"
)

const keyPrefix = "classify:"

// Store is the subset of the Redis client the cache uses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	CountByPattern(ctx context.Context, pattern string) (int64, error)
}

type Stats struct {
	Hits   int64
	Misses int64
	Keys   int64
}

type ResultCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New wraps store. Redis failures trip a circuit breaker, after which lookups
// are treated as misses until it closes again. m may be nil.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *ResultCache {
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     15 * time.Second,
		IsFailure: func(err error) bool {
			return !pkgredis.IsNilError(err) && !errors.Is(err, context.Canceled)
		},
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
		m.CircuitBreakerState.WithLabelValues("result-cache").Set(float64(resilience.StateClosed))
	}
	return &ResultCache{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("result-cache", cbCfg),
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

func (c *ResultCache) Get(ctx context.Context, version, query string) (*classifier.Result, bool) {
	key := buildKey(version, query)
	data, err := resilience.Call(c.breaker, func() ([]byte, error) {
		return c.store.Get(ctx, key)
	})
	switch {
	case pkgredis.IsNilError(err):
		c.miss()
		return nil, false
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.logger.Debug("cache bypassed, circuit open", "key", key)
		c.miss()
		return nil, false
	case err != nil:
		c.logger.Error("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}

	var result classifier.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (c *ResultCache) Set(ctx context.Context, version, query string, result *classifier.Result) {
	key := buildKey(version, query)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached result or computes and stores one. Concurrent
// misses for the same key share a single computation. The bool reports a
// cache hit.
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	version, query string,
	computeFn func() (*classifier.Result, error),
) (*classifier.Result, bool, error) {
	if result, ok := c.Get(ctx, version, query); ok {
		return result, true, nil
	}
	key := buildKey(version, query)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, version, query, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*classifier.Result), false, nil
}

// Invalidate deletes every cached result and returns how many keys were
// removed.
func (c *ResultCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Stats returns hit and miss counters since start and the number of keys
// currently stored. Keys is -1 when Redis cannot be reached.
func (c *ResultCache) Stats(ctx context.Context) Stats {
	keys, err := c.store.CountByPattern(ctx, keyPrefix+"*")
	if err != nil {
		c.logger.Warn("counting cache keys failed", "error", err)
		keys = -1
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Keys: keys}
}

// BreakerState reports the state of the circuit breaker guarding Redis.
func (c *ResultCache) BreakerState() resilience.State {
	return c.breaker.GetState()
}

func (c *ResultCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// buildKey hashes the version and the exact query bytes. Queries are not
// normalised: compression distance is sensitive to every byte.
func buildKey(version, query string) string {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{'|'})
	h.Write([]byte(query))
	return fmt.Sprintf("%s%s:%x", keyPrefix, version, h.Sum(nil)[:16])
}
