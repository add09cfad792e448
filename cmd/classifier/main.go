// Command classifier serves compression-distance text classification.
//
// It loads the labelled corpus from the configured source (CSV file,
// PostgreSQL table or object store), answers POST /api/v1/classify over HTTP
// and Classifier.Classify over the JSON-over-TCP RPC port, and rebuilds the
// classifier whenever ingestion announces a corpus change on Kafka.
//
// Usage:
//
//	go run ./cmd/classifier [-config configs/development.yaml]
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
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/cache"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/handler"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/registry"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/reloader"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/source"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	pkgerrors "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/rpc"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/tracing"
)

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
	tracing.Configure(tracing.Options{
		Enabled:       cfg.Tracing.Enabled,
		SampleRate:    cfg.Tracing.SampleRate,
		SlowThreshold: cfg.Tracing.SlowThreshold,
	})
	slog.Info("starting classifier service",
		"port", cfg.Server.Port,
		"algorithm", cfg.Classifier.Algorithm,
		"level", cfg.Classifier.Level,
		"k", cfg.Classifier.K,
		"corpus_source", cfg.Corpus.Source,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("classifier", cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}
	checker := health.NewChecker()

	var deps source.Deps
	switch cfg.Corpus.Source {
	case config.SourcePostgres:
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
		deps.DB = db.DB
		checker.Register("postgres", health.PingCheck(db.Ping))
	case config.SourceObject:
		client, err := source.NewMinioClient(cfg.ObjectStore)
		if err != nil {
			slog.Error("failed to create object store client", "error", err)
			os.Exit(1)
		}
		deps.Minio = client
	}
	src, err := source.FromConfig(cfg, deps)
	if err != nil {
		slog.Error("invalid corpus source", "error", err)
		os.Exit(1)
	}

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, 10000)
	collector.Start(ctx)
	defer collector.Close()

	reg := registry.New(src, cfg.Classifier, cfg.Corpus, m, collector)
	if _, err := reg.Reload(ctx); err != nil {
		slog.Error("initial corpus load failed", "source", src.Name(), "error", err)
		os.Exit(1)
	}
	checker.Register("classifier", reg.Check)

	var resultCache *cache.ResultCache
	var invalidator reloader.Invalidator
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		resultCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		invalidator = resultCache
		checker.RegisterOptional("redis", health.PingCheck(redisClient.Ping))
		slog.Info("result cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}

	rl := reloader.New(reg, invalidator, time.Minute)
	corpusConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CorpusEvents, rl.Handle)
	go func() {
		if err := corpusConsumer.Start(ctx); err != nil {
			slog.Error("corpus event consumer error", "error", err)
		}
	}()
	slog.Info("corpus reloader started", "topic", cfg.Kafka.Topics.CorpusEvents)

	h := handler.New(reg, resultCache, collector, m, cfg.Classifier)

	var rpcServer *rpc.Server
	if cfg.RPC.Port > 0 {
		rpcServer = rpc.NewServer(rpc.WithErrorCodes(pkgerrors.Code))
		h.RegisterRPC(rpcServer)
		go func() {
			if err := rpcServer.Serve(fmt.Sprintf(":%d", cfg.RPC.Port)); err != nil {
				slog.Error("rpc server error", "error", err)
			}
		}()
		defer rpcServer.Stop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/classify", h.Classify)
	mux.HandleFunc("POST /api/v1/classify/batch", h.ClassifyBatch)
	mux.HandleFunc("GET /api/v1/classifier", h.Info)
	mux.HandleFunc("POST /api/v1/classifier/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if cfg.Server.RequestTimeout > 0 {
		chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		chain = middleware.RateLimit(limiter, m)(chain)
		go pruneLimiter(ctx, limiter)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)

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

	slog.Info("classifier service listening", "addr", server.Addr, "rpc_port", cfg.RPC.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("classifier service stopped")
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
				slog.Debug("pruned idle rate limiters", "count", n)
			}
		}
	}
}
