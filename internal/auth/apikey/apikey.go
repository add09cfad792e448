// Package apikey stores scoped API keys in PostgreSQL. Raw keys are generated
// with crypto/rand, only their SHA-256 digest is stored, and a presented key
// is validated by looking up the digest. Each key carries the scopes it may
// use and a per-minute request budget.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
)

var (
	ErrInvalidKey   = errors.New("invalid api key")
	ErrExpiredKey   = errors.New("api key expired")
	ErrInvalidScope = errors.New("invalid scope")
)

// Scopes grant access to groups of gateway routes. ScopeAdmin implies every
// other scope.
const (
	ScopeClassify = "classify"
	ScopeIngest   = "ingest"
	ScopeAdmin    = "admin"
)

// KeyPrefix starts every raw key so leaked keys are easy to recognise.
const KeyPrefix = "ncd_"

// KeyInfo holds metadata about a stored API key. RateLimit is requests per
// minute.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HasScope reports whether the key grants scope.
func (k *KeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, ScopeAdmin) || slices.Contains(k.Scopes, scope)
}

// KeySpec describes a key to create.
type KeySpec struct {
	Name      string
	Scopes    []string
	RateLimit int
	ExpiresAt *time.Time
}

// ParseScopes splits a comma-separated scope list, dropping blanks and
// duplicates. Unknown scopes are rejected.
func ParseScopes(list string) ([]string, error) {
	var scopes []string
	for _, s := range strings.Split(list, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || slices.Contains(scopes, s) {
			continue
		}
		switch s {
		case ScopeClassify, ScopeIngest, ScopeAdmin:
			scopes = append(scopes, s)
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, s)
		}
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", ErrInvalidScope)
	}
	return scopes, nil
}

// Store validates and manages keys in the api_keys table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "apikey-store"),
	}
}

const keyColumns = `id, name, scopes, rate_limit, is_active, created_at, expires_at`

// Validate checks a raw key. It returns ErrInvalidKey for unknown or revoked
// keys and ErrExpiredKey once expires_at has passed.
func (s *Store) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return nil, ErrInvalidKey
	}
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1 AND is_active = true`,
		HashKey(rawKey),
	)
	info, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if info.ExpiresAt != nil && info.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiredKey
	}
	return info, nil
}

// CreateKey stores a new key and returns the raw key, which is never
// retrievable again.
func (s *Store) CreateKey(ctx context.Context, spec KeySpec) (string, *KeyInfo, error) {
	if spec.Name == "" {
		return "", nil, errors.New("key name is required")
	}
	if spec.RateLimit <= 0 {
		return "", nil, errors.New("rate limit must be positive")
	}
	if len(spec.Scopes) == 0 {
		return "", nil, fmt.Errorf("%w: at least one scope is required", ErrInvalidScope)
	}
	rawKey, err := generateRawKey()
	if err != nil {
		return "", nil, err
	}

	var expiry sql.NullTime
	if spec.ExpiresAt != nil {
		expiry = sql.NullTime{Time: *spec.ExpiresAt, Valid: true}
	}
	row := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO api_keys (id, key_hash, name, scopes, rate_limit, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+keyColumns,
		uuid.NewString(), HashKey(rawKey), spec.Name, pq.Array(spec.Scopes), spec.RateLimit, expiry,
	)
	info, err := scanKey(row)
	if err != nil {
		return "", nil, fmt.Errorf("creating api key: %w", err)
	}

	s.logger.Info("api key created", "id", info.ID, "name", info.Name, "scopes", info.Scopes, "rate_limit", info.RateLimit)
	return rawKey, info, nil
}

// RevokeKey deactivates the key with the given raw value.
func (s *Store) RevokeKey(ctx context.Context, rawKey string) error {
	return s.revoke(ctx, `UPDATE api_keys SET is_active = false WHERE key_hash = $1 AND is_active = true`, HashKey(rawKey))
}

// RevokeByID deactivates the key with the given ID.
func (s *Store) RevokeByID(ctx context.Context, id string) error {
	return s.revoke(ctx, `UPDATE api_keys SET is_active = false WHERE id = $1 AND is_active = true`, id)
}

func (s *Store) revoke(ctx context.Context, query, arg string) error {
	result, err := s.db.DB.ExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows == 0 {
		return ErrInvalidKey
	}
	s.logger.Info("api key revoked")
	return nil
}

// ListKeys returns active keys, newest first.
func (s *Store) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE is_active = true ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]KeyInfo, 0)
	for rows.Next() {
		info, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, *info)
	}
	return keys, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*KeyInfo, error) {
	var info KeyInfo
	var scopes pq.StringArray
	var expiresAt sql.NullTime
	if err := row.Scan(&info.ID, &info.Name, &scopes, &info.RateLimit, &info.IsActive, &info.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	info.Scopes = []string(scopes)
	if expiresAt.Valid {
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}
