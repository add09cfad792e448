// Package router wires up all API gateway routes and applies the middleware
// chain (RequestID → CORS → Metrics → Auth → RateLimit).
package router

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/auth/apikey"
	gwhandler "github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/middleware"
)

// New builds the full gateway HTTP handler with all routes and middleware.
// m may be nil.
//
// Route table:
//
//	POST   /api/v1/classify                  → classifier  (classify)
//	POST   /api/v1/classify/batch            → classifier  (classify)
//	GET    /api/v1/classifier                → classifier  (classify)
//	POST   /api/v1/classifier/reload         → classifier  (admin)
//	GET    /api/v1/cache/stats               → classifier  (admin)
//	POST   /api/v1/cache/invalidate          → classifier  (admin)
//	POST   /api/v1/corpus/entries            → ingestion   (ingest)
//	POST   /api/v1/corpus/import             → ingestion   (ingest)
//	GET    /api/v1/corpus/entries            → direct DB   (ingest)
//	GET    /api/v1/corpus/entries/{position} → direct DB   (ingest)
//	GET    /api/v1/analytics                 → analytics   (admin)
//	GET    /api/v1/analytics/labels/{label}  → analytics   (admin)
//	GET    /api/v1/analytics/history         → analytics   (admin)
//	POST   /api/v1/admin/keys                → direct DB   (admin)
//	GET    /api/v1/admin/keys                → direct DB   (admin)
//	DELETE /api/v1/admin/keys/{id}           → direct DB   (admin)
//	GET    /health/live, /health/ready       → gateway health
func New(h *gwhandler.Handler, v gwmw.Validator, limiter *pkgmw.Limiter, checker *health.Checker, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	route := func(pattern, scope string, fn http.HandlerFunc) {
		mux.Handle(pattern, gwmw.RequireScope(scope, fn))
	}

	route("POST /api/v1/classify", apikey.ScopeClassify, h.ProxyClassifier)
	route("POST /api/v1/classify/batch", apikey.ScopeClassify, h.ProxyClassifier)
	route("GET /api/v1/classifier", apikey.ScopeClassify, h.ProxyClassifier)
	route("POST /api/v1/classifier/reload", apikey.ScopeAdmin, h.ProxyClassifier)
	route("GET /api/v1/cache/stats", apikey.ScopeAdmin, h.ProxyClassifier)
	route("POST /api/v1/cache/invalidate", apikey.ScopeAdmin, h.ProxyClassifier)

	route("POST /api/v1/corpus/entries", apikey.ScopeIngest, h.ProxyIngest)
	route("POST /api/v1/corpus/import", apikey.ScopeIngest, h.ProxyIngest)
	route("GET /api/v1/corpus/entries", apikey.ScopeIngest, h.ListEntries)
	route("GET /api/v1/corpus/entries/{position}", apikey.ScopeIngest, h.GetEntry)

	route("GET /api/v1/analytics", apikey.ScopeAdmin, h.ProxyAnalytics)
	route("GET /api/v1/analytics/labels/{label}", apikey.ScopeAdmin, h.ProxyAnalytics)
	route("GET /api/v1/analytics/history", apikey.ScopeAdmin, h.ProxyAnalytics)

	route("POST /api/v1/admin/keys", apikey.ScopeAdmin, h.CreateAPIKey)
	route("GET /api/v1/admin/keys", apikey.ScopeAdmin, h.ListAPIKeys)
	route("DELETE /api/v1/admin/keys/{id}", apikey.ScopeAdmin, h.RevokeAPIKey)

	// Applied inside-out:
	// request → RequestID → CORS → Metrics → Auth → RateLimit → mux
	var chain http.Handler = mux
	chain = gwmw.RateLimit(limiter, m)(chain)
	chain = gwmw.Auth(v)(chain)
	if m != nil {
		chain = pkgmw.Metrics(m)(chain)
	}
	chain = pkgmw.CORS(pkgmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
