package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/source"
	apperrors "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
)

// MaxImportBytes bounds the CSV body accepted by Import.
const MaxImportBytes = 64 << 20

// Ingester stores corpus entries. *publisher.Publisher implements it.
type Ingester interface {
	Add(ctx context.Context, req *ingestion.EntryRequest) (*ingestion.EntryResponse, error)
	Import(ctx context.Context, entries []corpus.Entry) (*ingestion.ImportResponse, error)
}

type Handler struct {
	ingester Ingester
	logger   *slog.Logger
}

func New(ing Ingester) *Handler {
	return &Handler{
		ingester: ing,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

// AddEntry serves POST /api/v1/corpus/entries.
func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.EntryRequest
	r.Body = http.MaxBytesReader(w, r.Body, 2*validator.MaxTextLength+4096)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateEntryRequest(&req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	resp, err := h.ingester.Add(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed",
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	log.Info("corpus entry ingested",
		"position", resp.Position,
		"label", req.Label,
		"status", resp.Status,
	)
	status := http.StatusCreated
	if resp.Status == ingestion.StatusDuplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

// Import serves POST /api/v1/corpus/import. The body is CSV with a header
// row, text in the first column and label in the second.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	entries, err := source.ParseCSV(http.MaxBytesReader(w, r.Body, MaxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "import body too large")
			return
		}
		log.Warn("rejected malformed import", "error", err)
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validator.ValidateEntries(entries); err != nil {
		h.writeValidationError(w, err)
		return
	}

	resp, err := h.ingester.Import(ctx, entries)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("import failed", "entries", len(entries), "error", err)
		h.writeError(w, statusCode, "import failed")
		return
	}
	log.Info("corpus import completed", "accepted", resp.Accepted, "labels", len(resp.Labels))
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
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
