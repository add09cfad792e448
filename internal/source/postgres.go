package source

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
)

// Postgres loads the corpus from a table with text, label and position
// columns. Rows are returned in position order, which becomes corpus order.
type Postgres struct {
	DB    *sql.DB
	Table string
}

func (p *Postgres) Load(ctx context.Context) ([]corpus.Entry, error) {
	query := fmt.Sprintf(`SELECT text, label FROM %s ORDER BY position`, pq.QuoteIdentifier(p.Table))
	rows, err := p.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying corpus table %s: %w", p.Table, err)
	}
	defer rows.Close()

	entries := make([]corpus.Entry, 0, 256)
	for rows.Next() {
		var e corpus.Entry
		if err := rows.Scan(&e.Text, &e.Label); err != nil {
			return nil, fmt.Errorf("scanning corpus row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating corpus rows: %w", err)
	}
	return entries, nil
}

func (p *Postgres) Name() string { return "postgres:" + p.Table }
