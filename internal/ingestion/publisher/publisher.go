// Package publisher appends labelled entries to the corpus table in
// PostgreSQL and announces each change on the corpus-events topic so serving
// instances reload. Writes with an idempotency key are applied at most once.
package publisher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/proto"
)

// EventTracker receives ingestion analytics. *collector.BatchCollector
// implements it.
type EventTracker interface {
	Track(event any)
}

// Publisher coordinates entry persistence and corpus event production.
type Publisher struct {
	db       *postgres.Client
	table    string
	producer kafka.Publisher
	tracker  EventTracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Publisher writing to table. tracker and m may be nil.
func New(db *postgres.Client, table string, producer kafka.Publisher, tracker EventTracker, m *metrics.Metrics) *Publisher {
	return &Publisher{
		db:       db,
		table:    table,
		producer: producer,
		tracker:  tracker,
		metrics:  m,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Add stores one entry. A repeated idempotency key returns the original
// position with StatusDuplicate and changes nothing.
func (p *Publisher) Add(ctx context.Context, req *ingestion.EntryRequest) (*ingestion.EntryResponse, error) {
	start := time.Now()
	if req.IdempotencyKey != "" {
		existing, err := p.findByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
		if existing != nil {
			p.logger.Info("duplicate entry detected",
				"idempotency_key", req.IdempotencyKey,
				"position", existing.Position,
			)
			return existing, nil
		}
	}

	table := pq.QuoteIdentifier(p.table)
	var position int64
	err := p.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO `+table+` (text, label, idempotency_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING position`, req.Text, req.Label, nullableString(req.IdempotencyKey)).Scan(&position)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.New(apperrors.ErrIdempotencyConflict, 409, "idempotency key already in use")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting entry: %w", err)
	}

	p.announce(ctx, 1, []string{req.Label}, time.Since(start))
	return &ingestion.EntryResponse{Position: position, Status: ingestion.StatusAccepted}, nil
}

// Import appends entries in one transaction using COPY. Either every row is
// stored or none is.
func (p *Publisher) Import(ctx context.Context, entries []corpus.Entry) (*ingestion.ImportResponse, error) {
	start := time.Now()
	err := p.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn(p.table, "text", "label"))
		if err != nil {
			return fmt.Errorf("preparing copy: %w", err)
		}
		defer stmt.Close()
		for i, e := range entries {
			if _, err := stmt.ExecContext(ctx, e.Text, e.Label); err != nil {
				return fmt.Errorf("copying row %d: %w", i+1, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("flushing copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("importing entries: %w", err)
	}

	labels := distinctLabels(entries)
	p.announce(ctx, len(entries), labels, time.Since(start))
	return &ingestion.ImportResponse{Accepted: len(entries), Labels: labels}, nil
}

// announce publishes the corpus event and records analytics. The rows are
// already committed, so a publish failure is logged and not returned; the
// next reload picks the rows up.
func (p *Publisher) announce(ctx context.Context, count int, labels []string, latency time.Duration) {
	event := kafka.Event{
		Key:  "corpus",
		Type: string(proto.CorpusEntriesAdded),
		Value: proto.CorpusEvent{
			Type:  proto.CorpusEntriesAdded,
			Count: count,
			At:    time.Now().UTC(),
		},
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish corpus event, serving will not reload until the next change",
			"entries", count,
			"error", err,
		)
	}
	if p.metrics != nil {
		p.metrics.EntriesIngestedTotal.Add(float64(count))
	}
	if p.tracker != nil {
		p.tracker.Track(analytics.IngestEvent{
			Entries:   count,
			Labels:    labels,
			LatencyMs: latency.Milliseconds(),
			Timestamp: time.Now().UTC(),
		})
	}
}

// findByIdempotencyKey returns the stored entry for key, or nil if none.
func (p *Publisher) findByIdempotencyKey(ctx context.Context, key string) (*ingestion.EntryResponse, error) {
	resp := ingestion.EntryResponse{Status: ingestion.StatusDuplicate}
	err := p.db.DB.QueryRowContext(ctx,
		`SELECT position FROM `+pq.QuoteIdentifier(p.table)+` WHERE idempotency_key=$1`, key).Scan(&resp.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying by idempotency key: %w", err)
	}
	return &resp, nil
}

func distinctLabels(entries []corpus.Entry) []string {
	seen := make(map[string]struct{})
	labels := make([]string, 0)
	for _, e := range entries {
		if _, ok := seen[e.Label]; !ok {
			seen[e.Label] = struct{}{}
			labels = append(labels, e.Label)
		}
	}
	sort.Strings(labels)
	return labels
}

// nullableString converts a Go string to a sql.NullString, treating the
// empty string as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
