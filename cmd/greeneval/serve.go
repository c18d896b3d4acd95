package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/greeneval/internal/bus"
	"github.com/ricesearch/greeneval/internal/evaluation"
	"github.com/ricesearch/greeneval/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Serve qrels synthesis, evaluation, cost accounting, experiment runs and the
run history over JSON/HTTP, with Prometheus metrics at the metrics path.

Completed runs published on the event bus are recorded in the run store,
including those published by other processes sharing a Kafka bus.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			runs, err := a.openRuns(ctx)
			if err != nil {
				return err
			}
			if err := bus.NewRecorder(runs, a.log).Attach(ctx, a.bus); err != nil {
				return err
			}

			jcfg, err := a.judgmentConfig()
			if err != nil {
				return err
			}
			index, err := a.vectorIndex(ctx, "api")
			if err != nil {
				return err
			}

			cfg := server.DefaultConfig()
			cfg.Host = a.cfg.Server.Host
			cfg.Port = a.cfg.Server.Port
			cfg.RateLimit = a.cfg.Server.RateLimit
			cfg.Version = version
			if cmd.Flags().Changed("host") {
				cfg.Host, _ = cmd.Flags().GetString("host")
			}
			if cmd.Flags().Changed("port") {
				cfg.Port, _ = cmd.Flags().GetInt("port")
			}

			deps := server.Deps{
				Evaluator:  evaluation.NewEvaluator(a.log),
				Judgment:   jcfg,
				Index:      index,
				Accountant: a.accountant,
				Mix:        a.mix,
				Hardware:   a.hardware,
				Runs:       runs,
				Registry:   a.registry,
				Runner:     a.newRunner(false),
				Bus:        a.bus,
			}
			if a.cfg.Metrics.Enabled {
				deps.Metrics = a.metrics
				cfg.MetricsPath = a.cfg.Metrics.Path
			}
			return serve(ctx, server.New(cfg, deps, a.log), cfg.ShutdownTimeout, a)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	return cmd
}

// serve runs srv until it fails or a shutdown signal arrives.
func serve(ctx context.Context, srv *server.Server, shutdownTimeout time.Duration, a *app) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-sigCh:
		a.log.Info("Shutdown signal received")
	case <-ctx.Done():
		a.log.Info("Context cancelled, shutting down")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
