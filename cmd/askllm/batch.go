package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/ask-llm/internal/artifacts"
	"github.com/helixir/ask-llm/internal/config"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/pipeline"
	httpserver "github.com/helixir/ask-llm/internal/server/http"
)

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireProviderKey(); err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.Flags())
	ctx := cmd.Context()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("askllm", reg)

	comps, err := pipeline.Build(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close components")
		}
	}()

	var status *httpserver.Server
	if cfg.Server.Address != "" {
		status = startStatusServer(cfg, reg, logger)
		defer shutdownStatusServer(status, cfg, logger)
	}

	run, err := comps.Runner.Start(ctx, comps.Resolve(args))
	if err != nil {
		return err
	}
	if status != nil {
		status.Attach(run)
	}

	if err := run.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Str("checkpoint", cfg.Output.Checkpoint).Msg("interrupted, rerun with --no-clear to resume")
		}
		return err
	}
	sum, err := run.Finish(ctx)
	if err != nil {
		return err
	}

	if cfg.Artifacts.Enabled {
		if err := upload(ctx, cfg, sum.RunID, logger); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d documents, %d kept, %d filtered, %d failed queries, %d model calls in %s\n",
		sum.RunID, sum.Documents, sum.Kept, sum.Filtered, sum.FailedPairs, sum.Invoked, sum.Duration.Round(time.Second))
	fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", cfg.Output.Report)
	return nil
}

func startStatusServer(cfg *config.Config, gatherer prometheus.Gatherer, logger zerolog.Logger) *httpserver.Server {
	srv := httpserver.NewServer(httpserver.Config{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, gatherer, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("status server failed")
		}
	}()
	return srv
}

func shutdownStatusServer(srv *httpserver.Server, cfg *config.Config, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("status server shutdown failed")
	}
}

func upload(ctx context.Context, cfg *config.Config, runID string, logger zerolog.Logger) error {
	up, err := artifacts.NewMinioUploader(ctx, cfg.Artifacts, logger)
	if err != nil {
		return fmt.Errorf("connect artifact store: %w", err)
	}
	if _, err := up.Upload(ctx, runID, artifacts.Files(cfg.Output)); err != nil {
		return fmt.Errorf("upload artifacts: %w", err)
	}
	return nil
}
