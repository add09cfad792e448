// Command gateway starts the API gateway service.
//
// The gateway is the single entry point for external clients. It
// authenticates requests with scoped API keys (SHA-256 validated against
// PostgreSQL), applies per-key rate limiting, and proxies requests to the
// classifier, ingestion and analytics services. It also serves corpus
// browsing and API key management directly from PostgreSQL.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/auth/apikey"
	gwhandler "github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
)

// main initialises PostgreSQL, the API key store, the per-key limiter, the
// gateway handler + router middleware chain, and starts the HTTP server.
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
	slog.Info("starting gateway service",
		"port", cfg.Gateway.Port,
		"classifier_url", cfg.Gateway.ClassifierURL,
		"ingestion_url", cfg.Gateway.IngestionURL,
		"analytics_url", cfg.Gateway.AnalyticsURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// PostgreSQL holds API keys and the corpus table browsed directly.
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
		shutdownMetrics := metrics.StartServer("gateway", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	keys := apikey.NewStore(db)
	limiter := middleware.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go pruneLimiter(ctx, limiter)

	h, err := gwhandler.New(gwhandler.Config{
		ClassifierURL:  cfg.Gateway.ClassifierURL,
		IngestionURL:   cfg.Gateway.IngestionURL,
		AnalyticsURL:   cfg.Gateway.AnalyticsURL,
		CorpusTable:    cfg.Corpus.Table,
		DefaultKeyRate: cfg.Gateway.DefaultKeyRate,
	}, db.DB, keys)
	if err != nil {
		slog.Error("failed to create gateway handler", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	probe := &http.Client{Timeout: 2 * time.Second}
	checker.RegisterOptional("classifier", health.PingCheck(gwhandler.BackendPing(probe, cfg.Gateway.ClassifierURL)))
	checker.RegisterOptional("ingestion", health.PingCheck(gwhandler.BackendPing(probe, cfg.Gateway.IngestionURL)))
	checker.RegisterOptional("analytics", health.PingCheck(gwhandler.BackendPing(probe, cfg.Gateway.AnalyticsURL)))

	chain := router.New(h, keys, limiter, checker, m)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
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

	slog.Info("gateway service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway service stopped")
}

func pruneLimiter(ctx context.Context, l *middleware.Limiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				slog.Debug("pruned idle rate limit buckets", "count", n)
			}
		}
	}
}
