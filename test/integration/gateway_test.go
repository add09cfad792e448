// Package integration contains tests that verify the interaction between
// multiple platform components. The gateway is wired in front of the real
// classifier, ingestion and analytics handlers, with API keys and the corpus
// in PostgreSQL. Kafka is replaced by an in-memory publisher.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/auth/apikey"
	gwhandler "github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/gateway/router"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/ingestion/publisher"
	servinghandler "github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/handler"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/registry"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/source"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "ncdclassifier_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "ncdclassifier"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, kafka.Event) error        { return nil }
func (discardPublisher) PublishBatch(context.Context, []kafka.Event) error { return nil }

type platform struct {
	gateway *httptest.Server
	keys    *apikey.Store
	db      *postgres.Client
	table   string
}

// newPlatform seeds a fresh corpus table and starts the classifier,
// ingestion and analytics backends behind a gateway.
func newPlatform(t *testing.T, db *postgres.Client) *platform {
	t.Helper()
	ctx := context.Background()

	table := fmt.Sprintf("corpus_it_%d", time.Now().UnixNano())
	if _, err := db.DB.ExecContext(ctx, `CREATE TABLE `+table+` (LIKE corpus_entries INCLUDING ALL)`); err != nil {
		t.Fatalf("creating corpus table: %v", err)
	}
	t.Cleanup(func() { db.DB.ExecContext(context.Background(), `DROP TABLE `+table) })
	if _, err := db.DB.ExecContext(ctx,
		`INSERT INTO `+table+` (text, label) VALUES
		 ('cat sat on mat', 'animal'),
		 ('dog ran in park', 'animal'),
		 ('stock market fell', 'finance')`); err != nil {
		t.Fatalf("seeding corpus: %v", err)
	}

	// Classifier backend.
	clfCfg := config.ClassifierConfig{Algorithm: "zstd", Level: 3, K: 1, MaxQueryBytes: 1 << 16, MaxBatchSize: 8, BatchConcurrency: 2}
	reg := registry.New(&source.Postgres{DB: db.DB, Table: table}, clfCfg, config.CorpusConfig{LoadAttempts: 1}, nil, nil)
	if _, err := reg.Reload(ctx); err != nil {
		t.Fatalf("loading classifier: %v", err)
	}
	sh := servinghandler.New(reg, nil, nil, nil, clfCfg)
	clfMux := http.NewServeMux()
	clfMux.HandleFunc("POST /api/v1/classify", sh.Classify)
	clfMux.HandleFunc("POST /api/v1/classify/batch", sh.ClassifyBatch)
	clfMux.HandleFunc("GET /api/v1/classifier", sh.Info)
	clfMux.HandleFunc("POST /api/v1/classifier/reload", sh.Reload)
	classifierBackend := httptest.NewServer(clfMux)
	t.Cleanup(classifierBackend.Close)

	// Ingestion backend.
	ih := ingesthandler.New(publisher.New(db, table, discardPublisher{}, nil, nil))
	ingMux := http.NewServeMux()
	ingMux.HandleFunc("POST /api/v1/corpus/entries", ih.AddEntry)
	ingMux.HandleFunc("POST /api/v1/corpus/import", ih.Import)
	ingestionBackend := httptest.NewServer(ingMux)
	t.Cleanup(ingestionBackend.Close)

	// Analytics backend.
	ah := analytics.NewHandler(analytics.NewAggregator())
	anMux := http.NewServeMux()
	anMux.HandleFunc("GET /api/v1/analytics", ah.Stats)
	analyticsBackend := httptest.NewServer(anMux)
	t.Cleanup(analyticsBackend.Close)

	keys := apikey.NewStore(db)
	h, err := gwhandler.New(gwhandler.Config{
		ClassifierURL:  classifierBackend.URL,
		IngestionURL:   ingestionBackend.URL,
		AnalyticsURL:   analyticsBackend.URL,
		CorpusTable:    table,
		DefaultKeyRate: 600,
	}, db.DB, keys)
	if err != nil {
		t.Fatalf("creating gateway handler: %v", err)
	}
	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))

	gw := httptest.NewServer(router.New(h, keys, middleware.NewLimiter(10, 10), checker, nil))
	t.Cleanup(gw.Close)
	return &platform{gateway: gw, keys: keys, db: db, table: table}
}

func (p *platform) createKey(t *testing.T, name string, rate int, scopes ...string) string {
	t.Helper()
	raw, _, err := p.keys.CreateKey(context.Background(), apikey.KeySpec{Name: name, Scopes: scopes, RateLimit: rate})
	if err != nil {
		t.Fatalf("creating key: %v", err)
	}
	return raw
}

func (p *platform) do(t *testing.T, method, path, key string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, p.gateway.URL+path, r)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: request failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func classifyLabel(t *testing.T, resp *http.Response) string {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding classify response: %v", err)
	}
	return out.Label
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestHealthEndpoint verifies the gateway health check is accessible without auth.
func TestHealthEndpoint(t *testing.T) {
	p := newPlatform(t, skipIfNoPostgres(t))

	resp := p.do(t, http.MethodGet, "/health/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

// TestUnauthenticatedRequestRejected verifies that API endpoints reject
// requests without an API key.
func TestUnauthenticatedRequestRejected(t *testing.T) {
	p := newPlatform(t, skipIfNoPostgres(t))

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/classify"},
		{http.MethodGet, "/api/v1/corpus/entries"},
		{http.MethodGet, "/api/v1/analytics"},
	}
	for _, ep := range endpoints {
		resp := p.do(t, ep.method, ep.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", ep.method, ep.path, resp.StatusCode)
		}
	}
}

// TestAPIKeyLifecycle creates a key, classifies through the gateway, then
// revokes the key and checks it is rejected.
func TestAPIKeyLifecycle(t *testing.T) {
	p := newPlatform(t, skipIfNoPostgres(t))
	key := p.createKey(t, "integration-test", 100, apikey.ScopeClassify)

	label := classifyLabel(t, p.do(t, http.MethodPost, "/api/v1/classify", key, map[string]string{"text": "cat sat on rug"}))
	if label != "animal" {
		t.Errorf("expected animal, got %q", label)
	}

	if err := p.keys.RevokeKey(context.Background(), key); err != nil {
		t.Fatalf("revoking key: %v", err)
	}
	resp := p.do(t, http.MethodPost, "/api/v1/classify", key, map[string]string{"text": "cat sat on rug"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after revoke, got %d", resp.StatusCode)
	}
}

// TestScopeEnforcement verifies a classify-only key cannot write the corpus.
func TestScopeEnforcement(t *testing.T) {
	p := newPlatform(t, skipIfNoPostgres(t))
	key := p.createKey(t, "classify-only", 100, apikey.ScopeClassify)

	resp := p.do(t, http.MethodPost, "/api/v1/corpus/entries", key, map[string]string{"text": "x", "label": "y"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

// TestIngestReloadClassify adds an entry through the gateway, reloads the
// classifier and checks the new label is served.
func TestIngestReloadClassify(t *testing.T) {
	p := newPlatform(t, skipIfNoPostgres(t))
	ingestKey := p.createKey(t, "ingest-test", 100, apikey.ScopeIngest)
	adminKey := p.createKey(t, "admin-test", 100, apikey.ScopeAdmin)

	query := map[string]string{"text": "the goalkeeper saved a penalty"}
	if label := classifyLabel(t, p.do(t, http.MethodPost, "/api/v1/classify", adminKey, query)); label == "sport" {
		t.Fatalf("sport is not in the seed corpus, got %q", label)
	}

	resp := p.do(t, http.MethodPost, "/api/v1/corpus/entries", ingestKey, map[string]string{
		"text":  "the goalkeeper saved a penalty in the final",
		"label": "sport",
	})
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	resp = p.do(t, http.MethodPost, "/api/v1/classifier/reload", adminKey, nil)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("reload: expected 200, got %d: %s", resp.StatusCode, body)
	}

	if label := classifyLabel(t, p.do(t, http.MethodPost, "/api/v1/classify", adminKey, query)); label != "sport" {
		t.Errorf("expected sport after reload, got %q", label)
	}

	resp = p.do(t, http.MethodGet, "/api/v1/corpus/entries?label=sport", ingestKey, nil)
	var listed struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	if resp.StatusCode != http.StatusOK || listed.Count != 1 {
		t.Errorf("expected one sport entry, got status %d count %d", resp.StatusCode, listed.Count)
	}
}

// TestRateLimiting verifies that the gateway enforces per-key rate limits.
func TestRateLimiting(t *testing.T) {
	p := newPlatform(t, skipIfNoPostgres(t))
	key := p.createKey(t, "ratelimit-test", 2, apikey.ScopeClassify)

	for i := 0; i < 2; i++ {
		resp := p.do(t, http.MethodGet, "/api/v1/classifier", key, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	resp := p.do(t, http.MethodGet, "/api/v1/classifier", key, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
