package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/compressor"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/cache"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/registry"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/source"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	pkgerrors "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/rpc"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.data))
	s.data = make(map[string][]byte)
	return n, nil
}

func (s *memStore) CountByPattern(ctx context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.data)), nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.ClassifyEvent
}

func (t *recordingTracker) Track(event any) {
	if ev, ok := event.(analytics.ClassifyEvent); ok {
		t.mu.Lock()
		t.events = append(t.events, ev)
		t.mu.Unlock()
	}
}

var scenario = []corpus.Entry{
	{Text: "cat sat on mat", Label: "animal"},
	{Text: "dog ran in park", Label: "animal"},
	{Text: "stock market fell", Label: "finance"},
}

func testConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		Algorithm:        "zstd",
		Level:            3,
		K:                1,
		MaxQueryBytes:    64,
		MaxBatchSize:     4,
		BatchConcurrency: 2,
	}
}

type fixture struct {
	handler  *Handler
	registry *registry.Registry
	tracker  *recordingTracker
	mux      *http.ServeMux
}

func newFixture(t *testing.T, entries []corpus.Entry, withCache, load bool) *fixture {
	t.Helper()
	cfg := testConfig()
	reg := registry.New(&source.Static{Entries: entries}, cfg, config.CorpusConfig{LoadAttempts: 1}, nil, nil)
	if load {
		_, err := reg.Reload(context.Background())
		require.NoError(t, err)
	}
	var rc *cache.ResultCache
	if withCache {
		rc = cache.New(&memStore{data: make(map[string][]byte)}, time.Minute, nil)
	}
	tracker := &recordingTracker{}
	h := New(reg, rc, tracker, nil, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/classify", h.Classify)
	mux.HandleFunc("POST /api/v1/classify/batch", h.ClassifyBatch)
	mux.HandleFunc("GET /api/v1/classifier", h.Info)
	mux.HandleFunc("POST /api/v1/classifier/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	return &fixture{handler: h, registry: reg, tracker: tracker, mux: mux}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestClassify(t *testing.T) {
	f := newFixture(t, scenario, true, true)

	rec := f.do(http.MethodPost, "/api/v1/classify", `{"text":"cat sat on rug"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ClassifyResponse](t, rec)
	assert.Equal(t, "animal", resp.Label)
	assert.Len(t, resp.Neighbors, 1)
	assert.Equal(t, map[string]int{"animal": 1}, resp.Votes)
	assert.False(t, resp.CacheHit)
	assert.Equal(t, f.registry.Current().Version(), resp.CorpusVersion)

	rec = f.do(http.MethodPost, "/api/v1/classify", `{"text":"cat sat on rug"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[ClassifyResponse](t, rec)
	assert.True(t, again.CacheHit)
	assert.Equal(t, resp.Label, again.Label)
	assert.Equal(t, resp.Neighbors, again.Neighbors)

	require.Len(t, f.tracker.events, 2)
	assert.Equal(t, analytics.OutcomeLabeled, f.tracker.events[0].Outcome)
	assert.True(t, f.tracker.events[1].CacheHit)
}

func TestClassifyEmptyCorpusAnswersUnknown(t *testing.T) {
	f := newFixture(t, nil, false, true)

	rec := f.do(http.MethodPost, "/api/v1/classify", `{"text":"anything"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ClassifyResponse](t, rec)
	assert.Equal(t, classifier.UnknownLabel, resp.Label)
	assert.Empty(t, resp.Neighbors)
	assert.Equal(t, analytics.OutcomeUnknown, f.tracker.events[0].Outcome)
}

func TestClassifyRejections(t *testing.T) {
	tests := []struct {
		name   string
		load   bool
		body   string
		status int
	}{
		{"NotReady", false, `{"text":"cat"}`, http.StatusServiceUnavailable},
		{"BadJSON", true, `{"text":`, http.StatusBadRequest},
		{"TextTooLarge", true, `{"text":"` + strings.Repeat("a", 65) + `"}`, http.StatusRequestEntityTooLarge},
		{"BodyTooLarge", true, `{"text":"` + strings.Repeat("a", 10000) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, scenario, false, tt.load)
			rec := f.do(http.MethodPost, "/api/v1/classify", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			body := decode[map[string]string](t, rec)
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body, "label")
		})
	}
}

func TestClassificationFailureHasNoLabel(t *testing.T) {
	f := newFixture(t, scenario, false, true)
	rec := httptest.NewRecorder()
	f.handler.writeErr(rec, &classifier.ClassificationError{
		Index: 2,
		Err:   &compressor.CompressionError{Algorithm: compressor.Zstd, Err: errors.New("out of memory")},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Contains(t, body["error"], "classification failed")
	assert.Equal(t, "classification_failed", body["code"])
	assert.NotContains(t, body, "label")
}

func TestClassifyBatchPreservesOrder(t *testing.T) {
	f := newFixture(t, scenario, true, true)

	rec := f.do(http.MethodPost, "/api/v1/classify/batch",
		`{"texts":["stock market rose","cat sat on rug","stock market fell","dog ran in the park"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[BatchResponse](t, rec)
	require.Len(t, resp.Results, 4)

	want := []string{"finance", "animal", "finance", "animal"}
	for i, r := range resp.Results {
		assert.Equal(t, want[i], r.Label, "result %d", i)
		assert.Equal(t, resp.CorpusVersion, r.CorpusVersion)
	}
	assert.Len(t, f.tracker.events, 4)
}

func TestClassifyBatchRejections(t *testing.T) {
	f := newFixture(t, scenario, false, true)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/classify/batch", `{"texts":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodPost, "/api/v1/classify/batch", `{"texts":["a","b","c","d","e"]}`).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		f.do(http.MethodPost, "/api/v1/classify/batch", `{"texts":["a","`+strings.Repeat("b", 65)+`"]}`).Code)
}

func TestInfoAndReload(t *testing.T) {
	f := newFixture(t, scenario, true, false)

	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/v1/classifier", "").Code)

	rec := f.do(http.MethodPost, "/api/v1/classifier/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/classifier", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[registry.Info](t, rec)
	assert.Equal(t, "zstd", info.Algorithm)
	assert.Equal(t, 3, info.Level)
	assert.Equal(t, 1, info.K)
	assert.Equal(t, 3, info.CorpusSize)
	assert.Equal(t, map[string]int{"animal": 2, "finance": 1}, info.Labels)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, scenario, true, true)
	f.do(http.MethodPost, "/api/v1/classify", `{"text":"cat"}`)
	f.do(http.MethodPost, "/api/v1/classify", `{"text":"cat"}`)

	rec := f.do(http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), stats["hits"])
	assert.Equal(t, float64(1), stats["misses"])
	assert.Equal(t, "50.0%", stats["hit_rate"])
	assert.Equal(t, "closed", stats["breaker"])

	rec = f.do(http.MethodPost, "/api/v1/cache/invalidate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["keys_deleted"])

	disabled := newFixture(t, scenario, false, true)
	assert.Equal(t, http.StatusServiceUnavailable, disabled.do(http.MethodPost, "/api/v1/cache/invalidate", "").Code)
	assert.Equal(t, "disabled", decode[map[string]string](t, disabled.do(http.MethodGet, "/api/v1/cache/stats", ""))["status"])
}

func TestRPC(t *testing.T) {
	f := newFixture(t, scenario, false, true)
	srv := rpc.NewServer(rpc.WithErrorCodes(pkgerrors.Code))
	f.handler.RegisterRPC(srv)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.ServeListener(ln)
	t.Cleanup(srv.Stop)

	client, err := rpc.Dial(srv.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var plain proto.ClassifyResponse
	require.NoError(t, client.Call(ctx, proto.MethodClassify, &proto.ClassifyRequest{Text: "cat sat on rug"}, &plain))
	assert.Equal(t, "animal", plain.Label)
	assert.Empty(t, plain.Neighbors)

	var explained proto.ClassifyResponse
	require.NoError(t, client.Call(ctx, proto.MethodClassify, &proto.ClassifyRequest{Text: "stock market rose", Explain: true}, &explained))
	assert.Equal(t, "finance", explained.Label)
	require.Len(t, explained.Neighbors, 1)
	assert.Equal(t, 2, explained.Neighbors[0].Index)

	var info proto.InfoResponse
	require.NoError(t, client.Call(ctx, proto.MethodInfo, &proto.InfoRequest{}, &info))
	assert.Equal(t, 3, info.CorpusSize)
	assert.Equal(t, f.registry.Current().Version(), info.CorpusVersion)

	err = client.Call(ctx, proto.MethodClassify, &proto.ClassifyRequest{Text: strings.Repeat("x", 100)}, &plain)
	assert.True(t, rpc.IsCode(err, "invalid_input"), "got %v", err)
}

func TestRequestBodyIsJSONEncoded(t *testing.T) {
	f := newFixture(t, scenario, false, true)
	body, err := json.Marshal(ClassifyRequest{Text: "dog \"ran\"\n"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/classify", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
