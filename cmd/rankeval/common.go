package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rankeval/internal/config"
	"github.com/ricesearch/rankeval/internal/evaluation"
	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
)

// loadConfig loads the config file named by --config and sets up logging.
// --verbose forces debug logging.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}

// addFileFlag registers the required batch file.
func addFileFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "batch file (.json, .yaml, .yml or .csv)")
	_ = cmd.MarkFlagRequired("file")
}

// addMetricFlags registers the per-run metric overrides.
func addMetricFlags(cmd *cobra.Command) {
	cmd.Flags().Int("top-k", 0, "only consider the k best-scored items of each query")
	cmd.Flags().String("empty-target-action", "", "queries without a relevant item: skip, neg, pos or error")
	cmd.Flags().Int64("ignore-index", 0, "drop every sample with this query id")
	cmd.Flags().String("aggregation", "", "reduction over queries: mean, median, min or max")
	cmd.Flags().Bool("per-query", false, "also print the reciprocal rank of every query")
}

// metricOptions returns the overrides given on the command line. Flags
// left unset keep the configured defaults.
func metricOptions(cmd *cobra.Command) evaluation.Options {
	var opts evaluation.Options
	flags := cmd.Flags()

	if flags.Changed("top-k") {
		k, _ := flags.GetInt("top-k")
		opts.TopK = &k
	}
	if flags.Changed("ignore-index") {
		idx, _ := flags.GetInt64("ignore-index")
		opts.IgnoreIndex = &idx
	}
	opts.EmptyTargetAction, _ = flags.GetString("empty-target-action")
	opts.Aggregation, _ = flags.GetString("aggregation")
	return opts
}

// printResult writes res in the format chosen by --format.
func printResult(cmd *cobra.Command, res *evaluation.Result) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "text", "":
		writeText(out, res)
		return nil
	default:
		return apperrors.ValidationError(fmt.Sprintf("invalid output format: %s (must be text or json)", format))
	}
}

func writeText(out io.Writer, res *evaluation.Result) {
	fmt.Fprintf(out, "mrr:         %.6f\n", res.Score)
	fmt.Fprintf(out, "queries:     %d\n", res.Queries)
	fmt.Fprintf(out, "samples:     %d\n", res.Samples)
	fmt.Fprintf(out, "aggregation: %s\n", res.Options.Aggregation)
	fmt.Fprintf(out, "empty:       %s\n", res.Options.EmptyTargetAction)
	if res.Options.TopK > 0 {
		fmt.Fprintf(out, "top_k:       %d\n", res.Options.TopK)
	}
	if res.Options.IgnoreIndex != nil {
		fmt.Fprintf(out, "ignore:      %d\n", *res.Options.IgnoreIndex)
	}
	for _, q := range res.PerQuery {
		fmt.Fprintf(out, "  [%d] %.6f\n", q.Index, q.ReciprocalRank)
	}
}
