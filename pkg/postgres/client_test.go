package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *Client {
	t.Helper()
	port, _ := strconv.Atoi(envOrDefault("TEST_POSTGRES_PORT", "5432"))
	c, err := New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            port,
		Database:        envOrDefault("TEST_POSTGRES_DB", "ncdclassifier_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "ncdclassifier"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMigrateAndInTx(t *testing.T) {
	c := skipIfNoPostgres(t)
	ctx := context.Background()
	require.NoError(t, c.Migrate(ctx))
	require.NoError(t, c.Migrate(ctx), "migrate is idempotent")

	key := "pgtest-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	rollback := errors.New("rollback")
	err := c.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO corpus_entries (text, label, idempotency_key) VALUES ($1, $2, $3)`, "t", "l", key); err != nil {
			return err
		}
		return rollback
	})
	assert.ErrorIs(t, err, rollback)

	var n int
	require.NoError(t, c.DB.QueryRowContext(ctx, `SELECT count(*) FROM corpus_entries WHERE idempotency_key = $1`, key).Scan(&n))
	assert.Zero(t, n)
}
