// Package middleware authenticates gateway requests with scoped API keys and
// applies each key's request budget.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/auth/apikey"
)

// Validator resolves a raw API key.
type Validator interface {
	Validate(ctx context.Context, rawKey string) (*apikey.KeyInfo, error)
}

type contextKey struct{}

// Auth validates the API key on every request and stores its KeyInfo in the
// context. Keys can be provided via Authorization: Bearer <key> or the
// X-API-Key header. Health endpoints are exempt.
func Auth(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			info, err := v.Validate(r.Context(), key)
			switch {
			case err == nil:
			case errors.Is(err, apikey.ErrInvalidKey):
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			case errors.Is(err, apikey.ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "expired api key")
				return
			default:
				writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
				return
			}

			// Backends authenticate nothing, so the raw key is not forwarded.
			r.Header.Del("Authorization")
			r.Header.Del("X-API-Key")
			r.Header.Set("X-Key-ID", info.ID)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, info)))
		})
	}
}

// RequireScope rejects requests whose key lacks scope with 403.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := KeyInfo(r.Context())
		if info == nil || !info.HasScope(scope) {
			writeError(w, http.StatusForbidden, "api key lacks the "+scope+" scope")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyInfo returns the key validated by Auth, or nil.
func KeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(contextKey{}).(*apikey.KeyInfo)
	return info
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
