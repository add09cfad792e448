// Package e2e contains end-to-end tests that exercise the running platform:
// ingestion → corpus-events → classifier reload → classify → analytics, with
// real Kafka, PostgreSQL and Redis. The classifier must be configured with
// the postgres corpus source.
//
// Prerequisites:
//   - PostgreSQL, Kafka and Redis running
//   - classifier, ingestion, analytics and gateway services started
//
// Run with:
//
//	go test -v -timeout=120s ./test/e2e/...
package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

type e2eConfig struct {
	ClassifierURL string
	IngestionURL  string
	GatewayURL    string
	AnalyticsURL  string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		ClassifierURL: envOrDefault("E2E_CLASSIFIER_URL", "http://localhost:8080"),
		IngestionURL:  envOrDefault("E2E_INGESTION_URL", "http://localhost:8081"),
		GatewayURL:    envOrDefault("E2E_GATEWAY_URL", "http://localhost:8082"),
		AnalyticsURL:  envOrDefault("E2E_ANALYTICS_URL", "http://localhost:8083"),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestPlatformHealth verifies all services respond to health checks.
func TestPlatformHealth(t *testing.T) {
	cfg := loadE2EConfig()

	services := []struct {
		name string
		url  string
	}{
		{"classifier /health/ready", cfg.ClassifierURL + "/health/ready"},
		{"ingestion /health/ready", cfg.IngestionURL + "/health/ready"},
		{"analytics /health/live", cfg.AnalyticsURL + "/health/live"},
		{"gateway /health/live", cfg.GatewayURL + "/health/live"},
	}

	client := &http.Client{Timeout: 5 * time.Second}

	for _, svc := range services {
		t.Run(svc.name, func(t *testing.T) {
			resp, err := client.Get(svc.url)
			if err != nil {
				t.Skipf("service unavailable: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("expected 200, got %d: %s", resp.StatusCode, body)
			}
		})
	}
}

// TestIngestAndClassify exercises the corpus lifecycle: ingest an entry with
// a fresh label → wait for the classifier to reload → classify its text.
func TestIngestAndClassify(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}

	if _, err := client.Get(cfg.IngestionURL + "/health/live"); err != nil {
		t.Skipf("ingestion service unavailable: %v", err)
	}

	// 1. Ingest an entry whose label no other entry carries.
	label := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	text := fmt.Sprintf("zyxwv quux %s frobnicate the widget", label)
	payload := fmt.Sprintf(`{"text":%q,"label":%q,"idempotency_key":%q}`, text, label, label)

	resp, err := client.Post(cfg.IngestionURL+"/api/v1/corpus/entries", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("ingest request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	var ingestResult map[string]any
	json.NewDecoder(resp.Body).Decode(&ingestResult)
	t.Logf("ingested entry: position=%v, status=%v", ingestResult["position"], ingestResult["status"])

	// 2. Wait for the reload (poll the classifier).
	t.Log("waiting for classifier to reload...")
	var found bool
	for attempt := 0; attempt < 30; attempt++ {
		time.Sleep(1 * time.Second)

		classifyResp, err := client.Post(cfg.ClassifierURL+"/api/v1/classify", "application/json",
			strings.NewReader(fmt.Sprintf(`{"text":%q}`, text)))
		if err != nil {
			t.Logf("attempt %d: classify request failed: %v", attempt, err)
			continue
		}

		var result map[string]any
		json.NewDecoder(classifyResp.Body).Decode(&result)
		classifyResp.Body.Close()

		if result["label"] == label {
			found = true
			t.Logf("entry served after %d seconds (corpus_version=%v)", attempt+1, result["corpus_version"])
			break
		}
	}

	if !found {
		t.Log("label not served within 30s; the classifier may use a non-postgres source or Kafka may be unwired")
		// Don't fail hard; the e2e environment may not have all services wired up.
	}
}

// TestClassifyAnalytics verifies that classifications generate analytics events.
func TestClassifyAnalytics(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(cfg.ClassifierURL+"/api/v1/classify", "application/json", strings.NewReader(`{"text":"analytics test"}`))
	if err != nil {
		t.Skipf("classifier service unavailable: %v", err)
	}
	resp.Body.Close()

	// Give time for the analytics event to be collected.
	time.Sleep(2 * time.Second)

	analyticsResp, err := client.Get(cfg.AnalyticsURL + "/api/v1/analytics")
	if err != nil {
		t.Skipf("analytics service unavailable: %v", err)
	}
	defer analyticsResp.Body.Close()

	var stats map[string]any
	json.NewDecoder(analyticsResp.Body).Decode(&stats)

	total, _ := stats["total_classifications"].(float64)
	t.Logf("analytics: total_classifications=%v, cache_hits=%v, cache_misses=%v",
		stats["total_classifications"], stats["cache_hits"], stats["cache_misses"])

	if total < 1 {
		t.Log("expected at least 1 classification recorded in analytics")
	}
}

// TestCacheStats verifies that cache statistics are reported.
func TestCacheStats(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(cfg.ClassifierURL + "/api/v1/cache/stats")
	if err != nil {
		t.Skipf("classifier service unavailable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var stats map[string]any
	json.NewDecoder(resp.Body).Decode(&stats)
	t.Logf("cache stats: %v", stats)

	for _, field := range []string{"hits", "misses", "total", "hit_rate"} {
		if _, ok := stats[field]; !ok {
			if status, ok := stats["status"]; ok && status == "disabled" {
				t.Log("cache is disabled, skipping field check")
				return
			}
			t.Errorf("missing expected field: %s", field)
		}
	}
}

// TestGatewayRequiresKey verifies the gateway rejects anonymous traffic.
func TestGatewayRequiresKey(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(cfg.GatewayURL+"/api/v1/classify", "application/json", strings.NewReader(`{"text":"x"}`))
	if err != nil {
		t.Skipf("gateway unavailable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
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
