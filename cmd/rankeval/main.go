// Package main provides the rankeval command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rankeval",
		Short: "rankeval - Mean Reciprocal Rank evaluation",
		Long: `rankeval scores ranked retrieval results with Mean Reciprocal Rank.

Batches are flat lists of (query id, score, relevance) samples in JSON,
YAML or CSV. A batch can be scored in one process, split across simulated
ranks, or sharded over worker processes that merge their state through
Kafka or Redis.

Examples:
  rankeval compute --file batch.json
  rankeval compute --file batch.csv --top-k 10 --aggregation median
  rankeval worker --rank 0 --world-size 2 --gather redis --run-id eval-1 --file shard0.json
  rankeval replay --event-log rank0.jsonl,rank1.jsonl --world-size 2
  rankeval serve --port 8080`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		computeCmd(),
		workerCmd(),
		replayCmd(),
		serveCmd(),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rankeval %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
