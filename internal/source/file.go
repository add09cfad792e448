package source

import (
	"context"
	"fmt"
	"os"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
)

// File loads a CSV corpus from the local filesystem.
type File struct {
	Path string
}

func (f *File) Load(ctx context.Context) ([]corpus.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus file: %w", err)
	}
	defer fh.Close()

	entries, err := ParseCSV(fh)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.Path, err)
	}
	return entries, nil
}

func (f *File) Name() string { return "file:" + f.Path }
