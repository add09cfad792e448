// Command ingestion starts the corpus ingestion HTTP service.
//
// The service accepts labelled entries via POST /api/v1/corpus/entries and
// CSV bulk imports via POST /api/v1/corpus/import, validates them, appends
// them to the corpus table in PostgreSQL and announces each change on the
// corpus-events Kafka topic so classifier instances reload.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
)

// main loads configuration, connects to PostgreSQL, creates the Kafka
// producers, wires up the ingestion handler, and starts the HTTP server.
// Graceful shutdown is triggered by SIGINT/SIGTERM.
func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Server.Port, "table", cfg.Corpus.Table)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("ingestion", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CorpusEvents)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.CorpusEvents)

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	batch := collector.NewBatchCollector(analyticsProducer, 100, 5*time.Second)
	batch.Start(ctx)
	defer batch.Close()

	pub := publisher.New(db, cfg.Corpus.Table, producer, batch, m)
	h := handler.New(pub)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/corpus/entries", h.AddEntry)
	mux.HandleFunc("POST /api/v1/corpus/import", h.Import)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if cfg.Server.RequestTimeout > 0 {
		chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	}
	if cfg.RateLimit.Enabled {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst), m)(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
