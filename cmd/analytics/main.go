// Command analytics starts the standalone analytics aggregation service.
//
// It consumes classification, ingestion and reload events from Kafka,
// aggregates them in memory (totals, latency percentiles, cache hit rate,
// error rate, per-label counts), snapshots them to PostgreSQL once a minute,
// and serves GET /api/v1/analytics, /api/v1/analytics/labels/{label} and
// /api/v1/analytics/history.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
)

const (
	snapshotInterval = time.Minute
	snapshotsKept    = 7 * 24 * 60
)

// main boots the standalone analytics service: it restores the last
// snapshot, consumes analytics events, registers a health checker, and serves
// the HTTP API. Graceful shutdown is triggered by SIGINT/SIGTERM.
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
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	var store *aggregator.Store
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, analytics snapshots disabled", "error", err)
	} else {
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		store = aggregator.NewStore(db)
		if latest, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("failed to restore analytics snapshot", "error", err)
		} else if latest != nil {
			agg.Restore(*latest)
			slog.Info("analytics snapshot restored",
				"total_classifications", latest.Stats.TotalClassifications,
				"labels", len(latest.LabelCounts),
				"taken_at", latest.TakenAt,
			)
		}
		store.Start(ctx, agg, aggregator.PeriodicSave{Interval: snapshotInterval, Keep: snapshotsKept})
		checker.RegisterOptional("postgres", health.PingCheck(db.Ping))
	}

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, agg.Handle)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	analyticsHandler := analytics.NewHandler(agg)
	if store != nil {
		analyticsHandler.WithHistory(store)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analyticsHandler.Stats)
	mux.HandleFunc("GET /api/v1/analytics/labels/{label}", analyticsHandler.Label)
	mux.HandleFunc("GET /api/v1/analytics/history", analyticsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
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

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
