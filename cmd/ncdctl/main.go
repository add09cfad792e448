// Command ncdctl classifies and evaluates texts offline against a corpus CSV.
// It can also describe a running classifier and manage gateway API keys.
//
// Usage:
//
//	ncdctl [flags] <command> [args]
//
// Commands:
//
//	classify  - Classify text given as arguments or on stdin
//	evaluate  - Measure accuracy of a labelled test CSV
//	info      - Describe a corpus CSV or a running classifier
//	keys      - Manage gateway API keys
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
