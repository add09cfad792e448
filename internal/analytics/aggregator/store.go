// Package aggregator persists analytics snapshots to PostgreSQL so totals and
// the per-label histogram survive a restart of the analytics service.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
)

// Store reads and writes the analytics_snapshots table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

// SaveSnapshot inserts snap.
func (s *Store) SaveSnapshot(ctx context.Context, snap analytics.Snapshot) error {
	stats, err := json.Marshal(snap.Stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}
	counts, err := json.Marshal(snap.LabelCounts)
	if err != nil {
		return fmt.Errorf("encoding label counts: %w", err)
	}
	takenAt := snap.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}

	if _, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO analytics_snapshots (taken_at, corpus_version, classifications, stats, label_counts)
		 VALUES ($1, $2, $3, $4, $5)`,
		takenAt, snap.Stats.CorpusVersion, snap.Stats.TotalClassifications, stats, counts,
	); err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved",
		"classifications", snap.Stats.TotalClassifications,
		"labels", len(snap.LabelCounts),
		"corpus_version", snap.Stats.CorpusVersion,
	)
	return nil
}

const snapshotColumns = `taken_at, stats, label_counts`

// LatestSnapshot returns the newest snapshot, or nil when none exist.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.Snapshot, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM analytics_snapshots ORDER BY taken_at DESC, id DESC LIMIT 1`,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	return snap, nil
}

// ListSnapshots returns up to limit snapshots, newest first. Rows that fail
// to decode are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.Snapshot, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM analytics_snapshots ORDER BY taken_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]analytics.Snapshot, 0, limit)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

// Prune deletes all but the newest keep snapshots and reports how many rows
// went.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM analytics_snapshots WHERE id NOT IN (
			SELECT id FROM analytics_snapshots ORDER BY taken_at DESC, id DESC LIMIT $1
		)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*analytics.Snapshot, error) {
	var snap analytics.Snapshot
	var stats, counts []byte
	if err := row.Scan(&snap.TakenAt, &stats, &counts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &snap.Stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	if err := json.Unmarshal(counts, &snap.LabelCounts); err != nil {
		return nil, fmt.Errorf("decoding label counts: %w", err)
	}
	return &snap, nil
}

// PeriodicSave snapshots agg every interval until ctx ends, then writes one
// final snapshot. A tick with no new classifications or ingests since the
// last save writes nothing. When keep is positive older rows are pruned
// after each save.
type PeriodicSave struct {
	Interval time.Duration
	Keep     int
}

// Start launches the save loop in a goroutine.
func (s *Store) Start(ctx context.Context, agg *analytics.Aggregator, p PeriodicSave) {
	go s.run(ctx, agg, p)
	s.logger.Info("periodic snapshots started", "interval", p.Interval, "keep", p.Keep)
}

func (s *Store) run(ctx context.Context, agg *analytics.Aggregator, p PeriodicSave) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	var lastTotal, lastIngested int64 = -1, -1
	save := func(ctx context.Context) {
		snap := agg.Snapshot()
		if snap.Stats.TotalClassifications == lastTotal && snap.Stats.EntriesIngested == lastIngested {
			return
		}
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Error("snapshot failed", "error", err)
			return
		}
		lastTotal, lastIngested = snap.Stats.TotalClassifications, snap.Stats.EntriesIngested
		if p.Keep > 0 {
			if n, err := s.Prune(ctx, p.Keep); err != nil {
				s.logger.Warn("snapshot pruning failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("old snapshots pruned", "deleted", n)
			}
		}
	}

	for {
		select {
		case <-ticker.C:
			save(ctx)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			save(shutdownCtx)
			cancel()
			return
		}
	}
}
