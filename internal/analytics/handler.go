package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const maxTopLabels = 1000

// History lists persisted snapshots, newest first.
type History interface {
	ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
}

// Handler serves aggregated classification analytics over HTTP.
type Handler struct {
	aggregator *Aggregator
	history    History
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// WithHistory enables the history endpoint.
func (h *Handler) WithHistory(history History) *Handler {
	h.history = history
	return h
}

// Stats serves GET /api/v1/analytics. The optional top query parameter sets
// how many labels are listed (1..1000, default 10).
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top := defaultTopLabels
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTopLabels {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "top must be between 1 and 1000"})
			return
		}
		top = n
	}
	h.writeJSON(w, http.StatusOK, h.aggregator.StatsTop(top))
}

// Label serves GET /api/v1/analytics/labels/{label}.
func (h *Handler) Label(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	h.writeJSON(w, http.StatusOK, LabelCount{Label: label, Count: h.aggregator.LabelCount(label)})
}

// History serves GET /api/v1/analytics/history?limit=N (default 24, max 1000).
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot history not configured"})
		return
	}
	limit := 24
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTopLabels {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	snaps, err := h.history.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list snapshots", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list snapshots"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
