package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/compressor"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/evaluation"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/source"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/rpc"
)

var (
	corpusPath  string
	algorithm   string
	level       int
	k           int
	jsonOutput  bool
	verbose     bool
	explain     bool
	concurrency int
	serverAddr  string
)

var rootCmd = &cobra.Command{
	Use:           "ncdctl",
	Short:         "Compression-distance text classifier",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		lvl := "warn"
		if verbose {
			lvl = "debug"
		}
		logger.SetupWriter(os.Stderr, lvl, "text")
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [text...]",
	Short: "Classify text given as arguments or on stdin",
	Long: `Classify one text against a labelled corpus CSV (text,label with a header row).

Examples:
  ncdctl classify --corpus data/corpus.csv "the cat sat on the rug"
  echo "rates rose again" | ncdctl classify --corpus data/corpus.csv --k 3 --explain`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := queryText(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		c, err := loadClassifier(cmd.Context())
		if err != nil {
			return err
		}
		res, err := c.Explain(text)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.Label)
		if explain {
			for _, n := range res.Neighbors {
				fmt.Fprintf(out, "  #%-6d %-20s %.4f\n", n.Index, n.Label, n.Distance)
			}
			for _, label := range sortedKeys(res.Votes) {
				fmt.Fprintf(out, "  votes %-20s %d\n", label, res.Votes[label])
			}
		}
		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <test.csv>",
	Short: "Measure accuracy of a labelled test CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		test, err := (&source.File{Path: args[0]}).Load(cmd.Context())
		if err != nil {
			return err
		}
		c, err := loadClassifier(cmd.Context())
		if err != nil {
			return err
		}

		start := time.Now()
		report, err := evaluation.Evaluate(cmd.Context(), c, test, concurrency)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), report)
		}

		out := cmd.OutOrStdout()
		cfg := c.Config()
		fmt.Fprintf(out, "Classifier: %s level %d, k=%d, %d entries\n", cfg.Algorithm, cfg.Level, cfg.K, c.Corpus().Size())
		fmt.Fprintf(out, "Accuracy:   %.2f%% (%d/%d) in %s\n", report.Accuracy()*100, report.Correct, report.Total, time.Since(start).Round(time.Millisecond))
		for _, label := range report.Labels() {
			s := report.PerLabel[label]
			fmt.Fprintf(out, "  %-20s %6.2f%% (%d/%d)\n", label, s.Accuracy()*100, s.Correct, s.Total)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe a corpus CSV or a running classifier",
	Long: `Describe the corpus given by --corpus, or with --addr ask a running
classifier over RPC.

Examples:
  ncdctl info --corpus data/corpus.csv
  ncdctl info --addr localhost:9091`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var info proto.InfoResponse
		if serverAddr != "" {
			client, err := rpc.Dial(serverAddr)
			if err != nil {
				return err
			}
			defer client.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := client.Call(ctx, proto.MethodInfo, proto.InfoRequest{}, &info); err != nil {
				return err
			}
		} else {
			c, err := loadClassifier(cmd.Context())
			if err != nil {
				return err
			}
			cfg := c.Config()
			info = proto.InfoResponse{
				Algorithm:     cfg.Algorithm.String(),
				Level:         cfg.Level,
				K:             cfg.K,
				CorpusSize:    c.Corpus().Size(),
				Labels:        c.Corpus().LabelCounts(),
				CorpusVersion: c.Version(),
				Source:        "file:" + corpusPath,
			}
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Source:     %s\n", info.Source)
		fmt.Fprintf(out, "Algorithm:  %s level %d, k=%d\n", info.Algorithm, info.Level, info.K)
		fmt.Fprintf(out, "Entries:    %d\n", info.CorpusSize)
		fmt.Fprintf(out, "Version:    %s\n", info.CorpusVersion)
		for _, label := range sortedKeys(info.Labels) {
			fmt.Fprintf(out, "  %-20s %d\n", label, info.Labels[label])
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&corpusPath, "corpus", "data/corpus.csv", "labelled corpus CSV (text,label with header)")
	pf.StringVar(&algorithm, "algorithm", "zstd", "compression algorithm: zstd, gzip, zlib, deflate or lz4")
	pf.IntVar(&level, "level", -1, "compression level (-1 uses the algorithm default)")
	pf.IntVar(&k, "k", 1, "number of nearest neighbours that vote")
	pf.BoolVar(&jsonOutput, "json", false, "print JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	classifyCmd.Flags().BoolVar(&explain, "explain", false, "print the voting neighbours")
	evaluateCmd.Flags().IntVar(&concurrency, "concurrency", runtime.GOMAXPROCS(0), "parallel classifications")
	infoCmd.Flags().StringVar(&serverAddr, "addr", "", "RPC address of a running classifier")

	rootCmd.AddCommand(classifyCmd, evaluateCmd, infoCmd)
}

func loadClassifier(ctx context.Context) (*classifier.Classifier, error) {
	entries, err := (&source.File{Path: corpusPath}).Load(ctx)
	if err != nil {
		return nil, err
	}
	lvl := level
	if lvl < 0 {
		lvl = compressor.DefaultLevel(compressor.Resolve(algorithm))
	}
	slog.Debug("corpus loaded", "path", corpusPath, "entries", len(entries))
	return classifier.New(entries, algorithm, lvl, k)
}

func queryText(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
