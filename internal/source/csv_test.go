package source

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []corpus.Entry
	}{
		{"Empty", "", []corpus.Entry{}},
		{"HeaderOnly", "text,label\n", []corpus.Entry{}},
		{"Basic", "text,label\ncat sat on mat,animal\nstock market fell,finance\n", []corpus.Entry{
			{Text: "cat sat on mat", Label: "animal"},
			{Text: "stock market fell", Label: "finance"},
		}},
		{"Quoted", "text,label\n\"hello, world\",greeting\n", []corpus.Entry{
			{Text: "hello, world", Label: "greeting"},
		}},
		{"MissingLabel", "text,label\nlonely\n", []corpus.Entry{{Text: "lonely", Label: ""}}},
		{"ExtraColumns", "text,label,source\na,b,c\n", []corpus.Entry{{Text: "a", Label: "b"}}},
		{"HeaderIsNotData", "cat,animal\ndog,animal\n", []corpus.Entry{{Text: "dog", Label: "animal"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCSV(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCSVMalformed(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("text,label\n\"unterminated,x\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestParseCSVReadErrorIsNotMalformed(t *testing.T) {
	_, err := ParseCSV(failingReader{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	entries := []corpus.Entry{
		{Text: "multi\nline, with comma", Label: "odd"},
		{Text: `quote "inside"`, Label: "x"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, entries))
	got, err := ParseCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	require.NoError(t, os.WriteFile(path, []byte("text,label\ncat sat on mat,animal\n"), 0o644))

	f := &File{Path: path}
	entries, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []corpus.Entry{{Text: "cat sat on mat", Label: "animal"}}, entries)
	assert.Equal(t, "file:"+path, f.Name())

	_, err = (&File{Path: filepath.Join(t.TempDir(), "missing.csv")}).Load(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{Corpus: config.CorpusConfig{Source: config.SourceFile, Path: "x.csv"}}
	src, err := FromConfig(cfg, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &File{}, src)

	cfg.Corpus.Source = config.SourcePostgres
	_, err = FromConfig(cfg, Deps{})
	assert.Error(t, err, "postgres source needs a DB")

	cfg.Corpus.Source = config.SourceObject
	_, err = FromConfig(cfg, Deps{})
	assert.Error(t, err, "object source needs a client")

	cfg.Corpus.Source = "ftp"
	_, err = FromConfig(cfg, Deps{})
	assert.Error(t, err)
}

func TestStaticCopies(t *testing.T) {
	s := &Static{Entries: []corpus.Entry{{Text: "a", Label: "b"}}}
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	got[0].Label = "changed"
	assert.Equal(t, "b", s.Entries[0].Label)
}
