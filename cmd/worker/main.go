// Command worker hosts the batch workflow and its activities on a Temporal
// task queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/helixir/ask-llm/internal/config"
	"github.com/helixir/ask-llm/internal/control"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/pipeline"
	httpserver "github.com/helixir/ask-llm/internal/server/http"
	"github.com/helixir/ask-llm/internal/temporal"
	"github.com/helixir/ask-llm/internal/temporal/activities"
	"github.com/helixir/ask-llm/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireProviderKey(); err != nil {
		return err
	}
	// Activities always continue the run in the checkpoint.
	cfg.Pipeline.NoClear = true

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("askllm worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("askllm", reg)

	comps, err := pipeline.Build(ctx, cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() {
		if err := comps.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close components")
		}
	}()

	if cfg.Server.Address != "" {
		srv := httpserver.NewServer(httpserver.Config{
			Address:         cfg.Server.Address,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, reg, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error().Err(err).Msg("status server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("status server shutdown failed")
			}
		}()
	}

	temporalClient, err := temporal.NewClient(temporal.ClientConfig{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return err
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	if cfg.Kafka.ControlTopic != "" {
		batches := temporal.NewBatchClient(temporalClient, temporal.ClientConfig{TaskQueue: cfg.Temporal.TaskQueue})
		listener := control.NewListener(control.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ControlTopic,
			GroupID: cfg.Kafka.GroupID,
		}, batches, logger)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("control listener failed")
			}
		}()
		defer func() {
			if err := listener.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close control listener")
			}
		}()
	}

	manager, err := temporal.NewWorkerManager(temporalClient, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue))
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}
	manager.RegisterWorkflow(workflows.BatchWorkflow)
	manager.RegisterActivity(activities.NewBatchActivities(comps.Runner, comps.Resolve))

	logger.Info().Str("task_queue", manager.TaskQueue()).Msg("worker polling")
	if err := manager.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}
	logger.Info().Msg("worker stopped")
	return nil
}
