package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ricesearch/rankeval/internal/bus"
	"github.com/ricesearch/rankeval/internal/client"
	"github.com/ricesearch/rankeval/internal/dist"
	"github.com/ricesearch/rankeval/internal/evaluation"
	"github.com/ricesearch/rankeval/internal/metrics"
	apperrors "github.com/ricesearch/rankeval/internal/pkg/errors"
	"github.com/ricesearch/rankeval/internal/pkg/logger"
	"github.com/ricesearch/rankeval/internal/pkg/security"
)

func computeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Score a batch file",
		Long: `Score a batch file with Mean Reciprocal Rank.

With --simulate-world N the batch is split round-robin across N ranks
running in this process. The ranks merge their state through an in-process
barrier (--simulate-transport local) or the in-memory event bus
(--simulate-transport bus). The result equals the single-process one.
A bus run can journal its events with --event-log for "rankeval replay";
--run-id names the simulated run in that journal.

With --remote URL the batch is sent to a running "rankeval serve" instead
of being scored locally.`,
		RunE: runCompute,
	}

	addFileFlag(cmd)
	addMetricFlags(cmd)
	cmd.Flags().Int("simulate-world", 1, "number of simulated ranks")
	cmd.Flags().String("simulate-transport", "local", "how simulated ranks merge state (local, bus)")
	cmd.Flags().String("event-log", "", "append the events of a simulated bus run to this JSONL file")
	cmd.Flags().String("run-id", "", "run id of the simulated bus run (default: random)")
	cmd.Flags().Bool("print-metrics", false, "print engine metrics in Prometheus format to stderr")
	cmd.Flags().String("remote", "", "score on the rankeval server at this base URL")

	return cmd
}

func runCompute(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	file, _ := cmd.Flags().GetString("file")
	perQuery, _ := cmd.Flags().GetBool("per-query")
	world, _ := cmd.Flags().GetInt("simulate-world")
	transport, _ := cmd.Flags().GetString("simulate-transport")
	printMetrics, _ := cmd.Flags().GetBool("print-metrics")
	eventLog, _ := cmd.Flags().GetString("event-log")
	runID, _ := cmd.Flags().GetString("run-id")

	if eventLog != "" && (world <= 1 || transport != "bus") {
		return apperrors.ValidationError("--event-log needs --simulate-transport bus and --simulate-world > 1")
	}
	if runID == "" {
		runID = uuid.NewString()
	} else if err := security.ValidateRunID(runID); err != nil {
		return err
	}

	batch, err := evaluation.LoadBatch(file)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if remote, _ := cmd.Flags().GetString("remote"); remote != "" {
		if world > 1 {
			return apperrors.ValidationError("--remote cannot be combined with --simulate-world")
		}
		c := client.New(client.Config{BaseURL: remote, Timeout: cfg.Dist.Timeout})
		log.Debug("Scoring remotely", "url", remote)
		res, err := c.EvaluateMRR(ctx, evaluation.MRRRequest{
			Batch:    batch,
			Options:  metricOptions(cmd),
			PerQuery: perQuery,
		})
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	}

	m := metrics.New()
	defer m.Close()

	evaluator := evaluation.NewEvaluator(cfg.Metric, log, m)
	evaluator.SetSyncTimeout(cfg.Dist.Timeout)

	var res *evaluation.Result
	if world <= 1 {
		res, err = evaluator.Evaluate(ctx, batch, metricOptions(cmd), perQuery)
	} else {
		var run evaluation.Runner
		run, err = simulationRunner(simulation{
			transport: transport,
			world:     world,
			runID:     runID,
			eventLog:  eventLog,
		}, m, log)
		if err != nil {
			return err
		}
		log.Info("Simulating distributed run", "world_size", world, "transport", transport, "run_id", runID)
		res, err = evaluator.EvaluateSharded(ctx, batch, metricOptions(cmd), perQuery, world, run)
	}
	if err != nil {
		return err
	}

	if printMetrics {
		fmt.Fprint(cmd.ErrOrStderr(), m.PrometheusFormat())
	}
	return printResult(cmd, res)
}

// simulation describes a distributed run inside this process.
type simulation struct {
	transport string
	world     int
	runID     string
	eventLog  string // bus only
}

// simulationRunner connects simulated ranks with the chosen transport.
func simulationRunner(sim simulation, m *metrics.Metrics, log *logger.Logger) (evaluation.Runner, error) {
	switch sim.transport {
	case "local":
		return func(ctx context.Context, fn dist.RankFunc) error {
			return dist.RunLocal(ctx, sim.world, fn)
		}, nil

	case "bus":
		return func(ctx context.Context, fn dist.RankFunc) error {
			journal, err := bus.NewEventLogger(sim.eventLog)
			if err != nil {
				return err
			}

			var eventBus bus.Bus = bus.NewInstrumentedBus(bus.NewMemoryBus(log), m)
			if err := metrics.NewEventSubscriber(m, eventBus).SubscribeToEvents(ctx); err != nil {
				eventBus.Close()
				journal.Close()
				return err
			}
			if journal.Enabled() {
				eventBus = bus.NewLoggedBus(eventBus, journal, log)
			}
			defer eventBus.Close()
			defer journal.Close()

			return dist.RunOverBus(ctx, eventBus, sim.runID, sim.world, log, fn)
		}, nil

	default:
		return nil, fmt.Errorf("invalid simulate-transport: %s (must be local or bus)", sim.transport)
	}
}
