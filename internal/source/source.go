// Package source loads labelled corpora for the classifier from a CSV file,
// a PostgreSQL table or an S3-compatible object store.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
)

// ErrMalformed marks corpus data that will not load no matter how often it is
// retried.
var ErrMalformed = errors.New("malformed corpus data")

// Source produces the ordered entries of a corpus.
type Source interface {
	Load(ctx context.Context) ([]corpus.Entry, error)
	Name() string
}

// Deps carries the clients a configured source may need. Unused fields may be
// nil.
type Deps struct {
	DB    *sql.DB
	Minio *minio.Client
}

// FromConfig builds the source selected by cfg.Corpus.Source.
func FromConfig(cfg *config.Config, deps Deps) (Source, error) {
	switch cfg.Corpus.Source {
	case config.SourceFile:
		return &File{Path: cfg.Corpus.Path}, nil
	case config.SourcePostgres:
		if deps.DB == nil {
			return nil, errors.New("postgres corpus source requires a database connection")
		}
		return &Postgres{DB: deps.DB, Table: cfg.Corpus.Table}, nil
	case config.SourceObject:
		if deps.Minio == nil {
			return nil, errors.New("object corpus source requires an object store client")
		}
		return &Object{Client: deps.Minio, Bucket: cfg.ObjectStore.Bucket, Key: cfg.Corpus.ObjectKey}, nil
	default:
		return nil, fmt.Errorf("unknown corpus source %q", cfg.Corpus.Source)
	}
}

// Static serves a fixed set of entries.
type Static struct {
	Entries []corpus.Entry
}

func (s *Static) Load(context.Context) ([]corpus.Entry, error) {
	return append([]corpus.Entry(nil), s.Entries...), nil
}

func (s *Static) Name() string { return "static" }
