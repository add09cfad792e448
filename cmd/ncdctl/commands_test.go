package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/evaluation"
)

const corpusCSV = `text,label
the striker scored a late goal to win the football match,sport
the goalkeeper saved a penalty in the football match,sport
the central bank raised interest rates to fight inflation,finance
bond yields rose after the central bank raised interest rates,finance
`

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestClassifyCommand(t *testing.T) {
	corpus := writeFile(t, "corpus.csv", corpusCSV)

	out := run(t, "", "classify", "--corpus", corpus, "--json=false", "the", "central", "bank", "raised", "rates")
	assert.Equal(t, "finance", strings.TrimSpace(out))

	out = run(t, "the goalkeeper saved a penalty\n", "classify", "--corpus", corpus, "--k", "1")
	assert.Equal(t, "sport", strings.TrimSpace(out))
}

func TestEvaluateCommandJSON(t *testing.T) {
	corpus := writeFile(t, "corpus.csv", corpusCSV)
	test := writeFile(t, "test.csv", "text,label\nthe central bank raised interest rates again,finance\n")

	out := run(t, "", "evaluate", test, "--corpus", corpus, "--json")
	var report evaluation.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Correct)
}

func TestInfoCommandLocal(t *testing.T) {
	corpus := writeFile(t, "corpus.csv", corpusCSV)

	out := run(t, "", "info", "--corpus", corpus, "--json=false", "--algorithm", "gzip")
	assert.Contains(t, out, "gzip level 6")
	assert.Contains(t, out, "Entries:    4")
	assert.Contains(t, out, "finance")
}
