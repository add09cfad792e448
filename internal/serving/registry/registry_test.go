package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/source"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	pkgerrors "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
)

// flakySource fails its first failures loads with err.
type flakySource struct {
	entries  []corpus.Entry
	failures int32
	err      error
	calls    atomic.Int32
}

func (s *flakySource) Load(context.Context) ([]corpus.Entry, error) {
	if n := s.calls.Add(1); n <= s.failures {
		return nil, s.err
	}
	return s.entries, nil
}

func (s *flakySource) Name() string { return "flaky" }

type recordingTracker struct {
	mu     sync.Mutex
	events []any
}

func (t *recordingTracker) Track(event any) {
	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()
}

var testEntries = []corpus.Entry{
	{Text: "cat sat on mat", Label: "animal"},
	{Text: "dog ran in park", Label: "animal"},
	{Text: "stock market fell", Label: "finance"},
}

func classifierConfig() config.ClassifierConfig {
	return config.ClassifierConfig{Algorithm: "zstd", Level: 3, K: 1}
}

func corpusConfig() config.CorpusConfig {
	return config.CorpusConfig{LoadAttempts: 3, LoadBackoff: time.Millisecond}
}

func TestNotReadyBeforeFirstLoad(t *testing.T) {
	r := New(&source.Static{}, classifierConfig(), corpusConfig(), nil, nil)
	assert.Nil(t, r.Current())
	assert.False(t, r.Ready())
	_, ok := r.Info()
	assert.False(t, ok)
	assert.Equal(t, health.StatusDown, r.Check(context.Background()).Status)
}

func TestReloadSwapsClassifier(t *testing.T) {
	tracker := &recordingTracker{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	src := &source.Static{Entries: testEntries[:2]}
	r := New(src, classifierConfig(), corpusConfig(), m, tracker)

	first, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, r.Current())

	src.Entries = testEntries
	second, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.Version(), second.Version())
	assert.Equal(t, 2, first.Corpus().Size(), "old instance is never mutated")

	info, ok := r.Info()
	require.True(t, ok)
	assert.Equal(t, "zstd", info.Algorithm)
	assert.Equal(t, 3, info.CorpusSize)
	assert.Equal(t, map[string]int{"animal": 2, "finance": 1}, info.Labels)
	assert.Equal(t, second.Version(), info.CorpusVersion)
	assert.Equal(t, "static", info.Source)
	assert.Equal(t, health.StatusUp, r.Check(context.Background()).Status)

	require.Len(t, tracker.events, 2)
	ev, ok := tracker.events[1].(analytics.ReloadEvent)
	require.True(t, ok)
	assert.True(t, ev.Success)
	assert.Equal(t, 3, ev.CorpusSize)
}

func TestReloadRetriesTransientFailures(t *testing.T) {
	src := &flakySource{entries: testEntries, failures: 2, err: errors.New("connection refused")}
	r := New(src, classifierConfig(), corpusConfig(), nil, nil)

	_, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestReloadDoesNotRetryMalformedCorpus(t *testing.T) {
	src := &flakySource{
		entries:  testEntries,
		failures: 5,
		err:      fmt.Errorf("line 3: %w", source.ErrMalformed),
	}
	r := New(src, classifierConfig(), corpusConfig(), nil, nil)
	_, err := r.Reload(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrMalformed)
	assert.ErrorIs(t, err, pkgerrors.ErrCorpusUnavailable)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestFailedReloadKeepsPreviousClassifier(t *testing.T) {
	tracker := &recordingTracker{}
	src := &flakySource{entries: testEntries}
	r := New(src, classifierConfig(), corpusConfig(), nil, tracker)
	before, err := r.Reload(context.Background())
	require.NoError(t, err)

	src.calls.Store(0)
	src.failures = 10
	src.err = errors.New("timeout")
	_, err = r.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, before, r.Current())

	last := tracker.events[len(tracker.events)-1].(analytics.ReloadEvent)
	assert.False(t, last.Success)
}

func TestReloadRejectsBadConfiguration(t *testing.T) {
	cfg := classifierConfig()
	cfg.K = 0
	r := New(&source.Static{Entries: testEntries}, cfg, corpusConfig(), nil, nil)
	_, err := r.Reload(context.Background())
	var consErr *classifier.ConstructionError
	require.True(t, errors.As(err, &consErr))
	assert.False(t, r.Ready())
}
