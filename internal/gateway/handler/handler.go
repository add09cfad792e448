package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
)

// Config holds the URLs of the backend services the gateway proxies to.
type Config struct {
	ClassifierURL  string
	IngestionURL   string
	AnalyticsURL   string
	CorpusTable    string
	DefaultKeyRate int
}

// KeyManager creates, lists and revokes API keys.
type KeyManager interface {
	CreateKey(ctx context.Context, spec apikey.KeySpec) (string, *apikey.KeyInfo, error)
	ListKeys(ctx context.Context) ([]apikey.KeyInfo, error)
	RevokeByID(ctx context.Context, id string) error
}

// Handler implements the API gateway's HTTP endpoints. It proxies
// classification, ingestion and analytics traffic to the backend services,
// reads corpus entries directly from PostgreSQL and manages API keys.
type Handler struct {
	classifierProxy *httputil.ReverseProxy
	ingestionProxy  *httputil.ReverseProxy
	analyticsProxy  *httputil.ReverseProxy
	db              *sql.DB
	table           string
	keys            KeyManager
	defaultKeyRate  int
	logger          *slog.Logger
}

// New creates a gateway Handler. db may be nil, in which case the corpus
// browsing endpoints answer 503.
func New(cfg Config, db *sql.DB, keys KeyManager) (*Handler, error) {
	h := &Handler{
		db:             db,
		table:          cfg.CorpusTable,
		keys:           keys,
		defaultKeyRate: cfg.DefaultKeyRate,
		logger:         slog.Default().With("component", "gateway-handler"),
	}
	var err error
	if h.classifierProxy, err = h.newProxy("classifier", cfg.ClassifierURL); err != nil {
		return nil, err
	}
	if h.ingestionProxy, err = h.newProxy("ingestion", cfg.IngestionURL); err != nil {
		return nil, err
	}
	if h.analyticsProxy, err = h.newProxy("analytics", cfg.AnalyticsURL); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handler) newProxy(name, target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s url %q", name, target)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			if id := middleware.GetRequestID(pr.In.Context()); id != "" {
				pr.Out.Header.Set(middleware.RequestIDHeader, id)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logger.Error("backend request failed", "backend", name, "path", r.URL.Path, "error", err)
			h.writeError(w, http.StatusBadGateway, name+" service unavailable")
		},
	}, nil
}

// ---------- Proxy handlers ----------

// ProxyClassifier forwards classification and classifier admin requests.
func (h *Handler) ProxyClassifier(w http.ResponseWriter, r *http.Request) {
	h.classifierProxy.ServeHTTP(w, r)
}

// ProxyIngest forwards corpus writes to the ingestion service.
func (h *Handler) ProxyIngest(w http.ResponseWriter, r *http.Request) {
	h.ingestionProxy.ServeHTTP(w, r)
}

// ProxyAnalytics forwards analytics queries to the analytics service.
func (h *Handler) ProxyAnalytics(w http.ResponseWriter, r *http.Request) {
	h.analyticsProxy.ServeHTTP(w, r)
}

// ---------- Direct corpus handlers ----------

type corpusEntry struct {
	Position  int64     `json:"position"`
	Text      string    `json:"text"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// GetEntry returns one stored corpus entry by position.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.writeError(w, http.StatusServiceUnavailable, "corpus storage not configured")
		return
	}
	position, err := strconv.ParseInt(r.PathValue("position"), 10, 64)
	if err != nil || position < 1 {
		h.writeError(w, http.StatusBadRequest, "position must be a positive integer")
		return
	}

	var e corpusEntry
	err = h.db.QueryRowContext(r.Context(),
		`SELECT position, text, label, created_at FROM `+pq.QuoteIdentifier(h.table)+` WHERE position = $1`,
		position,
	).Scan(&e.Position, &e.Text, &e.Label, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		h.writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch corpus entry", "position", position, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch entry")
		return
	}
	h.writeJSON(w, http.StatusOK, e)
}

// ListEntries pages through stored corpus entries in classification order.
// Query parameters: label (exact match), after (position cursor), limit.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.writeError(w, http.StatusServiceUnavailable, "corpus storage not configured")
		return
	}
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	var after int64
	if v := q.Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = parsed
	}
	label := q.Get("label")

	rows, err := h.db.QueryContext(r.Context(),
		`SELECT position, text, label, created_at FROM `+pq.QuoteIdentifier(h.table)+`
		 WHERE position > $1 AND ($2::text = '' OR label = $2::text)
		 ORDER BY position LIMIT $3`,
		after, label, limit,
	)
	if err != nil {
		h.logger.Error("failed to list corpus entries", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	defer rows.Close()

	entries := make([]corpusEntry, 0, limit)
	for rows.Next() {
		var e corpusEntry
		if err := rows.Scan(&e.Position, &e.Text, &e.Label, &e.CreatedAt); err != nil {
			h.logger.Error("failed to scan corpus row", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to list entries")
			return
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("failed to list corpus entries", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}

	resp := map[string]any{
		"entries": entries,
		"count":   len(entries),
		"limit":   limit,
	}
	if len(entries) == limit {
		resp["next_after"] = entries[len(entries)-1].Position
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ---------- Admin handlers ----------

// CreateAPIKey creates a new API key and returns the raw key (shown once).
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		Scopes    string `json:"scopes"`
		RateLimit int    `json:"rate_limit"`
		ExpiresIn string `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	scopes, err := apikey.ParseScopes(req.Scopes)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RateLimit <= 0 {
		req.RateLimit = h.defaultKeyRate
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid expires_in duration")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	raw, info, err := h.keys.CreateKey(r.Context(), apikey.KeySpec{
		Name:      req.Name,
		Scopes:    scopes,
		RateLimit: req.RateLimit,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		h.logger.Error("failed to create api key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": raw,
		"key":     info,
		"message": "store this key securely, it cannot be retrieved again",
	})
}

// ListAPIKeys returns all active API keys (without hashes).
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list api keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// RevokeAPIKey deactivates the key named by the id path value.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.keys.RevokeByID(r.Context(), id)
	if errors.Is(err, apikey.ErrInvalidKey) {
		h.writeError(w, http.StatusNotFound, "api key not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to revoke api key", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to revoke api key")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked", "id": id})
}

// ---------- Health ----------

// BackendPing returns a ping function that succeeds when the backend's
// liveness endpoint answers 200.
func BackendPing(client *http.Client, baseURL string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/live", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("liveness returned %d", resp.StatusCode)
		}
		return nil
	}
}

// ---------- Helpers ----------

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
