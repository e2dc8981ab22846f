package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rankeval/internal/metrics"
	"github.com/ricesearch/rankeval/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the evaluation HTTP API",
		Long: `Start the evaluation HTTP API.

Endpoints:
  POST /v1/evaluation/mrr              batch + options -> MRR
  POST /v1/evaluation/reciprocal-rank  single query -> reciprocal rank
  GET  /healthz                        liveness
  GET  /metrics                        Prometheus metrics`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP server host")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	appCfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		appCfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		appCfg.Host, _ = cmd.Flags().GetString("host")
	}
	if err := appCfg.Validate(); err != nil {
		return err
	}

	m := metrics.New()
	defer m.Close()

	srv, err := server.New(server.ConfigFromApp(*appCfg, version), *appCfg, log, m)
	if err != nil {
		return err
	}

	log.Info("Starting rankeval server",
		"version", version,
		"addr", appCfg.Address(),
		"rate_limit", appCfg.Security.RateLimit,
		"metrics", appCfg.Observability.MetricsEnabled,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	if err := srv.Stop(context.Background()); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
