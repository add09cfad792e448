// Command loadtest drives concurrent classification traffic against a
// classifier service, directly or through the gateway, and reports
// throughput, latency percentiles, cache hit ratio and the label mix. Queries
// loaded from a labelled CSV also yield an accuracy figure.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 20 -duration 30s
//	go run ./cmd/loadtest -url http://localhost:8082 -api-key ncd_... -rps 200 -batch 16 -queries data/queries.csv
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/source"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Concurrency int
	Duration    time.Duration
	RPS         float64
	Batch       int
	Queries     []corpus.Entry
}

var defaultQueries = []corpus.Entry{
	{Text: "the striker scored in the final minute"},
	{Text: "interest rates rose again this quarter"},
	{Text: "the cat chased a mouse across the garden"},
	{Text: "new smartphone ships with a faster chip"},
	{Text: "parliament passed the budget after a long debate"},
	{Text: "the goalkeeper saved two penalties"},
	{Text: "stock markets fell on inflation fears"},
	{Text: "a dog ran through the park"},
	{Text: "the startup raised a new funding round"},
	{Text: "rain is expected across the north tomorrow"},
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the classifier service or gateway")
	apiKey := flag.String("api-key", "", "API key sent as X-API-Key when going through the gateway")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "cap on requests per second across all workers (0 = unlimited)")
	batch := flag.Int("batch", 1, "texts per request; above 1 uses the batch endpoint")
	queriesPath := flag.String("queries", "", "optional corpus CSV (text,label with header) used as queries; labels give accuracy")
	jsonOut := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	queries := defaultQueries
	if *queriesPath != "" {
		loaded, err := loadQueries(*queriesPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading queries: %v\n", err)
			os.Exit(1)
		}
		queries = loaded
	}
	if *concurrency < 1 || *batch < 1 {
		fmt.Fprintln(os.Stderr, "concurrency and batch must be at least 1")
		os.Exit(2)
	}

	cfg := Config{
		BaseURL:     *baseURL,
		APIKey:      *apiKey,
		Concurrency: *concurrency,
		Duration:    *duration,
		RPS:         *rps,
		Batch:       *batch,
		Queries:     queries,
	}

	if !*jsonOut {
		fmt.Println("=== Classifier Load Test ===")
		fmt.Printf("Target:      %s\n", cfg.BaseURL)
		fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
		fmt.Printf("Duration:    %s\n", cfg.Duration)
		fmt.Printf("Batch:       %d\n", cfg.Batch)
		fmt.Printf("Queries:     %d unique\n\n", len(cfg.Queries))
	}

	start := time.Now()
	stats := run(context.Background(), cfg)
	report := stats.Report(time.Since(start))

	if *jsonOut {
		report.WriteJSON(os.Stdout)
	} else {
		report.WriteText(os.Stdout)
	}
	if report.Requests == 0 {
		fmt.Fprintln(os.Stderr, "no requests completed; is the service running?")
		os.Exit(1)
	}
}

func loadQueries(path string) ([]corpus.Entry, error) {
	entries, err := (&source.File{Path: path}).Load(context.Background())
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s contains no queries", path)
	}
	return entries, nil
}

func run(ctx context.Context, cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS/10)))
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Concurrency {
		g.Go(func() error {
			next := w * cfg.Batch
			for {
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				picked := make([]corpus.Entry, cfg.Batch)
				for i := range picked {
					picked[i] = cfg.Queries[next%len(cfg.Queries)]
					next++
				}
				smp := send(ctx, client, cfg, picked)
				if smp.err != nil && ctx.Err() != nil {
					return nil
				}
				stats.Record(smp)
			}
		})
	}
	g.Wait()
	return stats
}

type classifyResult struct {
	Label    string `json:"label"`
	CacheHit bool   `json:"cache_hit"`
}

// send issues one classify or classify/batch request for picked.
func send(ctx context.Context, client *http.Client, cfg Config, picked []corpus.Entry) sample {
	url := cfg.BaseURL + "/api/v1/classify"
	var payload any = map[string]string{"text": picked[0].Text}
	if cfg.Batch > 1 {
		url += "/batch"
		texts := make([]string, len(picked))
		for i, e := range picked {
			texts[i] = e.Text
		}
		payload = map[string][]string{"texts": texts}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return sample{err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sample{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RequestIDHeader, "loadtest-"+uuid.NewString())
	if cfg.APIKey != "" {
		req.Header.Set("X-API-Key", cfg.APIKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return sample{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()
	smp := sample{status: resp.StatusCode}

	var results []classifyResult
	if resp.StatusCode == http.StatusOK {
		if cfg.Batch > 1 {
			var out struct {
				Results []classifyResult `json:"results"`
			}
			err = json.NewDecoder(resp.Body).Decode(&out)
			results = out.Results
		} else {
			var out classifyResult
			err = json.NewDecoder(resp.Body).Decode(&out)
			results = []classifyResult{out}
		}
	}
	io.Copy(io.Discard, resp.Body)
	smp.latency = time.Since(start)
	if err != nil {
		smp.err = fmt.Errorf("decoding response: %w", err)
		return smp
	}
	for i, r := range results {
		if i >= len(picked) {
			break
		}
		smp.predictions = append(smp.predictions, prediction{
			label:    r.Label,
			expected: picked[i].Label,
			cacheHit: r.CacheHit,
		})
	}
	return smp
}
