package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/cache"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/serving/registry"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	pkgerrors "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/tracing"
)

type ClassifyRequest struct {
	Text string `json:"text"`
}

type ClassifyResponse struct {
	Label         string                `json:"label"`
	Neighbors     []classifier.Neighbor `json:"neighbors"`
	Votes         map[string]int        `json:"votes"`
	CacheHit      bool                  `json:"cache_hit"`
	CorpusVersion string                `json:"corpus_version"`
	LatencyMs     int64                 `json:"latency_ms"`
}

type BatchRequest struct {
	Texts []string `json:"texts"`
}

type BatchResponse struct {
	Results       []*ClassifyResponse `json:"results"`
	CorpusVersion string              `json:"corpus_version"`
	LatencyMs     int64               `json:"latency_ms"`
}

// Handler serves classification over HTTP and RPC.
type Handler struct {
	registry *registry.Registry
	cache    *cache.ResultCache
	tracker  registry.Tracker
	metrics  *metrics.Metrics
	cfg      config.ClassifierConfig
	logger   *slog.Logger
}

// New creates a Handler. resultCache, tracker and m may be nil.
func New(reg *registry.Registry, resultCache *cache.ResultCache, tracker registry.Tracker, m *metrics.Metrics, cfg config.ClassifierConfig) *Handler {
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}
	return &Handler{
		registry: reg,
		cache:    resultCache,
		tracker:  tracker,
		metrics:  m,
		cfg:      cfg,
		logger:   slog.Default().With("component", "classify-handler"),
	}
}

func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "http.classify", logger.RequestID(r.Context()))
	defer span.Finish()
	log := logger.FromContext(ctx)

	var req ClassifyRequest
	if err := h.decode(w, r, &req, h.bodyLimit(1)); err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.validateText(req.Text); err != nil {
		h.writeErr(w, err)
		return
	}
	clf := h.registry.Current()
	if clf == nil {
		h.writeErr(w, pkgerrors.New(pkgerrors.ErrNotReady, http.StatusServiceUnavailable, "classifier not loaded"))
		return
	}

	resp, err := h.classify(ctx, clf, req.Text)
	if err != nil {
		log.Error("classification failed", "query_bytes", len(req.Text), "error", err)
		h.writeErr(w, err)
		return
	}

	log.Info("query classified",
		"label", resp.Label,
		"neighbors", len(resp.Neighbors),
		"cache_hit", resp.CacheHit,
		"latency_ms", resp.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// ClassifyBatch classifies every text against the same classifier instance.
// Results keep the request order; the first failure fails the batch.
func (h *Handler) ClassifyBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "http.classify_batch", logger.RequestID(r.Context()))
	defer span.Finish()
	log := logger.FromContext(ctx)

	var req BatchRequest
	if err := h.decode(w, r, &req, h.bodyLimit(h.cfg.MaxBatchSize)); err != nil {
		h.writeErr(w, err)
		return
	}
	if len(req.Texts) == 0 {
		h.writeErr(w, pkgerrors.New(pkgerrors.ErrInvalidInput, http.StatusBadRequest, "texts must not be empty"))
		return
	}
	if len(req.Texts) > h.cfg.MaxBatchSize {
		h.writeErr(w, pkgerrors.Newf(pkgerrors.ErrInvalidInput, http.StatusBadRequest,
			"batch of %d exceeds the limit of %d", len(req.Texts), h.cfg.MaxBatchSize))
		return
	}
	for i, text := range req.Texts {
		if err := h.validateText(text); err != nil {
			h.writeErr(w, fmt.Errorf("text %d: %w", i, err))
			return
		}
	}
	clf := h.registry.Current()
	if clf == nil {
		h.writeErr(w, pkgerrors.New(pkgerrors.ErrNotReady, http.StatusServiceUnavailable, "classifier not loaded"))
		return
	}
	span.SetAttr("batch_size", len(req.Texts))

	results := make([]*ClassifyResponse, len(req.Texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.BatchConcurrency)
	for i, text := range req.Texts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := h.classify(gctx, clf, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", pkgerrors.ErrTimeout, err)
		}
		log.Error("batch classification failed", "batch_size", len(req.Texts), "error", err)
		h.writeErr(w, err)
		return
	}

	latencyMs := time.Since(start).Milliseconds()
	log.Info("batch classified", "batch_size", len(req.Texts), "latency_ms", latencyMs)
	h.writeJSON(w, http.StatusOK, &BatchResponse{
		Results:       results,
		CorpusVersion: clf.Version(),
		LatencyMs:     latencyMs,
	})
}

// Info serves GET /api/v1/classifier.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	info, ok := h.registry.Info()
	if !ok {
		h.writeErr(w, pkgerrors.New(pkgerrors.ErrNotReady, http.StatusServiceUnavailable, "classifier not loaded"))
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

// Reload rebuilds the classifier from its corpus source. The previous
// classifier keeps serving if the reload fails.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.registry.Reload(ctx); err != nil {
		logger.FromContext(ctx).Error("manual reload failed", "error", err)
		h.writeErr(w, err)
		return
	}
	if h.cache != nil {
		if _, err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	info, _ := h.registry.Info()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "reloaded",
		"classifier": info,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	stats := h.cache.Stats(r.Context())
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"total":    total,
		"keys":     stats.Keys,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  h.cache.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// classify runs one query through the cache and the classifier and records
// metrics and analytics for it.
func (h *Handler) classify(ctx context.Context, clf *classifier.Classifier, text string) (*ClassifyResponse, error) {
	start := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "classify")
	defer span.End()

	compute := func() (*classifier.Result, error) {
		_, s := tracing.StartChildSpan(ctx, "compute")
		defer s.End()
		return clf.Explain(text)
	}

	var (
		result      *classifier.Result
		err         error
		cacheHit    bool
		cacheStatus = "disabled"
	)
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, clf.Version(), text, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, err = compute()
	}
	latency := time.Since(start)
	span.SetAttr("cache", cacheStatus)
	span.SetError(err)

	h.record(ctx, clf, len(text), result, cacheHit, cacheStatus, latency, err)
	if err != nil {
		return nil, err
	}
	return &ClassifyResponse{
		Label:         result.Label,
		Neighbors:     result.Neighbors,
		Votes:         result.Votes,
		CacheHit:      cacheHit,
		CorpusVersion: clf.Version(),
		LatencyMs:     latency.Milliseconds(),
	}, nil
}

func (h *Handler) record(ctx context.Context, clf *classifier.Classifier, queryBytes int, result *classifier.Result, cacheHit bool, cacheStatus string, latency time.Duration, err error) {
	outcome := analytics.OutcomeLabeled
	switch {
	case err != nil:
		outcome = analytics.OutcomeError
	case len(result.Neighbors) == 0:
		outcome = analytics.OutcomeUnknown
	}

	if h.metrics != nil {
		h.metrics.ClassificationsTotal.WithLabelValues(outcome).Inc()
		h.metrics.ClassifyLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
		if result != nil {
			h.metrics.NeighborsConsidered.Observe(float64(len(result.Neighbors)))
		}
	}
	if h.tracker != nil {
		event := analytics.ClassifyEvent{
			Type:          analytics.EventClassify,
			Outcome:       outcome,
			QueryBytes:    queryBytes,
			LatencyMs:     latency.Milliseconds(),
			CacheHit:      cacheHit,
			CorpusVersion: clf.Version(),
			Timestamp:     time.Now().UTC(),
			RequestID:     logger.RequestID(ctx),
		}
		if result != nil {
			event.Label = result.Label
			event.Neighbors = len(result.Neighbors)
		}
		h.tracker.Track(event)
	}
}

func (h *Handler) validateText(text string) error {
	if h.cfg.MaxQueryBytes > 0 && len(text) > h.cfg.MaxQueryBytes {
		return pkgerrors.Newf(pkgerrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
			"text of %d bytes exceeds the limit of %d", len(text), h.cfg.MaxQueryBytes)
	}
	return nil
}

// bodyLimit allows for JSON escaping of n maximum-size texts.
func (h *Handler) bodyLimit(n int) int64 {
	if h.cfg.MaxQueryBytes <= 0 {
		return 1 << 30
	}
	return int64(n)*int64(h.cfg.MaxQueryBytes)*2 + 4096
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pkgerrors.Newf(pkgerrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
				"request body exceeds %d bytes", tooLarge.Limit)
		}
		return pkgerrors.Newf(pkgerrors.ErrInvalidInput, http.StatusBadRequest, "invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps err to a status code and error body. Classification
// failures never carry a label.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	body := pkgerrors.BodyOf(err)
	var classErr *classifier.ClassificationError
	if errors.As(err, &classErr) {
		body.Error = "classification failed: " + classErr.Error()
	}
	h.writeJSON(w, pkgerrors.HTTPStatusCode(err), body)
}
