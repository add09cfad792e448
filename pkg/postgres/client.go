// Package postgres wraps database/sql with the lib/pq driver, connection pool
// settings and the schema used by the corpus, API key and analytics tables.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
)

// Schema creates the tables the services rely on. Corpus rows keep their
// insertion order through position, which is the order classification sees.
const Schema = `
CREATE TABLE IF NOT EXISTS corpus_entries (
	position        BIGSERIAL PRIMARY KEY,
	text            TEXT NOT NULL,
	label           TEXT NOT NULL,
	idempotency_key TEXT UNIQUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id          TEXT PRIMARY KEY,
	key_hash    TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	scopes      TEXT[] NOT NULL DEFAULT '{}',
	rate_limit  INTEGER NOT NULL,
	is_active   BOOLEAN NOT NULL DEFAULT true,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id              BIGSERIAL PRIMARY KEY,
	taken_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	corpus_version  TEXT NOT NULL DEFAULT '',
	classifications BIGINT NOT NULL DEFAULT 0,
	stats           JSONB NOT NULL,
	label_counts    JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS analytics_snapshots_taken_at ON analytics_snapshots (taken_at DESC);
`

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

// Migrate applies Schema. It is idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
