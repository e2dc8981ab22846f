package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rankeval/internal/bus"
	"github.com/ricesearch/rankeval/internal/dist"
	"github.com/ricesearch/rankeval/internal/evaluation"
	"github.com/ricesearch/rankeval/internal/metrics"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Score one shard as a rank of a distributed run",
		Long: `Score one shard as a rank of a multi-process run.

Every rank loads its own shard, accumulates it, then merges the raw state
of all ranks (through Kafka or Redis) before computing, so every rank
prints the score of the whole dataset. All ranks must share --run-id and
--world-size and use distinct ranks. The run id must be new for every run:
Kafka and Redis keep the contributions of a finished run for a while, and a
rank that finds an earlier contribution under its own slot fails.

With --event-log (kafka only) every event this rank publishes is appended
to a JSONL file that "rankeval replay" can score again.

Flags override the dist section of the config and RANKEVAL_* variables.`,
		RunE: runWorker,
	}

	addFileFlag(cmd)
	addMetricFlags(cmd)
	cmd.Flags().Int("rank", 0, "rank of this process, in [0, world-size)")
	cmd.Flags().Int("world-size", 1, "number of ranks")
	cmd.Flags().String("gather", "", "state exchange backend (kafka, redis)")
	cmd.Flags().String("run-id", "", "identifier shared by the ranks of one run, unique per run")
	cmd.Flags().String("kafka-brokers", "", "comma separated Kafka brokers")
	cmd.Flags().String("redis-url", "", "Redis URL")
	cmd.Flags().Duration("timeout", 0, "bound on the state synchronization")
	cmd.Flags().String("event-log", "", "append published bus events to this JSONL file")
	cmd.Flags().Bool("print-metrics", false, "print engine metrics in Prometheus format to stderr")

	return cmd
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("rank") {
		cfg.Dist.Rank, _ = flags.GetInt("rank")
	}
	if flags.Changed("world-size") {
		cfg.Dist.WorldSize, _ = flags.GetInt("world-size")
	}
	if flags.Changed("gather") {
		cfg.Dist.Backend, _ = flags.GetString("gather")
	}
	if flags.Changed("run-id") {
		cfg.Dist.RunID, _ = flags.GetString("run-id")
	}
	if flags.Changed("kafka-brokers") {
		cfg.Dist.KafkaBrokers, _ = flags.GetString("kafka-brokers")
	}
	if flags.Changed("redis-url") {
		cfg.Dist.RedisURL, _ = flags.GetString("redis-url")
	}
	if flags.Changed("timeout") {
		cfg.Dist.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("event-log") {
		cfg.Dist.EventLog, _ = flags.GetString("event-log")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log = log.WithRank(cfg.Dist.Rank, cfg.Dist.WorldSize)

	file, _ := flags.GetString("file")
	perQuery, _ := flags.GetBool("per-query")
	printMetrics, _ := flags.GetBool("print-metrics")

	shard, err := evaluation.LoadBatch(file)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	defer m.Close()

	journal, err := bus.NewEventLogger(cfg.Dist.EventLog)
	if err != nil {
		return err
	}
	defer journal.Close()

	instrument := func(b bus.Bus) bus.Bus {
		ib := bus.NewInstrumentedBus(b, m)
		if err := metrics.NewEventSubscriber(m, ib).SubscribeToEvents(ctx); err != nil {
			log.Warn("Failed to subscribe metrics to gather events", "error", err)
		}
		if !journal.Enabled() {
			return ib
		}
		log.Info("Logging published events", "path", journal.Path())
		return bus.NewLoggedBus(ib, journal, log)
	}

	g, err := dist.NewGatherer(ctx, cfg.Dist, log, instrument)
	if err != nil {
		return err
	}
	if g != nil {
		defer g.Close()
		log.Info("Joined distributed run", "backend", cfg.Dist.Backend, "run_id", cfg.Dist.RunID)
	}

	evaluator := evaluation.NewEvaluator(cfg.Metric, log, m)
	evaluator.SetSyncTimeout(cfg.Dist.Timeout)

	res, err := evaluator.EvaluateRank(ctx, shard, metricOptions(cmd), perQuery, cfg.Dist.Rank, g)
	if err != nil {
		return err
	}

	if printMetrics {
		fmt.Fprint(cmd.ErrOrStderr(), m.PrometheusFormat())
	}
	return printResult(cmd, res)
}
