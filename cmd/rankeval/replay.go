package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rankeval/internal/bus"
	"github.com/ricesearch/rankeval/internal/dist"
	"github.com/ricesearch/rankeval/internal/evaluation"
	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
)

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Score a finished distributed run from its event logs",
		Long: `Score a finished distributed run again from the JSONL event logs its
ranks wrote with --event-log.

A worker logs only the events it publishes, so pass the log of every rank.
The contributions of the gather round are merged in rank order and scored
with the given options, which may differ from the ones of the run.

When the logs hold a single run, --run-id may be omitted.`,
		RunE: runReplay,
	}

	addMetricFlags(cmd)
	cmd.Flags().StringSlice("event-log", nil, "event log files of the ranks")
	cmd.Flags().String("run-id", "", "run to replay")
	cmd.Flags().Int("world-size", 0, "number of ranks of the run")
	cmd.Flags().String("round", evaluation.GatherRound, "gather round to score")
	_ = cmd.MarkFlagRequired("event-log")
	_ = cmd.MarkFlagRequired("world-size")

	return cmd
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	paths, _ := flags.GetStringSlice("event-log")
	runID, _ := flags.GetString("run-id")
	world, _ := flags.GetInt("world-size")
	round, _ := flags.GetString("round")
	perQuery, _ := flags.GetBool("per-query")

	var events []bus.LoggedEvent
	for _, path := range paths {
		logged, err := bus.ReadEvents(path, time.Time{}, 0)
		if err != nil {
			return err
		}
		events = append(events, logged...)
	}

	if runID == "" {
		runs := dist.LoggedRuns(events)
		if len(runs) != 1 {
			return apperrors.ValidationError(fmt.Sprintf("the event logs hold %d runs (%s); choose one with --run-id", len(runs), strings.Join(runs, ", ")))
		}
		runID = runs[0]
	}
	log.Info("Replaying run", "run_id", runID, "round", round, "events", len(events))

	parts, err := dist.ReplayRound(cmd.Context(), events, runID, world, round, log)
	if err != nil {
		return err
	}

	evaluator := evaluation.NewEvaluator(cfg.Metric, log, nil)
	res, err := evaluator.EvaluateGathered(cmd.Context(), parts, metricOptions(cmd), perQuery)
	if err != nil {
		return err
	}
	return printResult(cmd, res)
}
