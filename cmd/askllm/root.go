package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/helixir/ask-llm/internal/config"
	"github.com/helixir/ask-llm/internal/observability"
)

// flagBindings maps configuration keys to the persistent flags that
// override them.
var flagBindings = map[string]string{
	"query.file":                   "query-file",
	"llm.provider":                 "provider",
	"llm.default_model":            "model",
	"output.report":                "output",
	"output.checkpoint":            "checkpoint",
	"output.download_dir":          "download-dir",
	"pipeline.concurrency":         "concurrency",
	"pipeline.no_clear":            "no-clear",
	"pipeline.google_search":       "google-search",
	"pipeline.search_missing_pdfs": "search-missing-pdfs",
	"discovery.backend":            "discovery-backend",
	"cache.backend":                "cache",
	"server.address":               "status-addr",
	"artifacts.enabled":            "upload",
	"temporal.host_port":           "temporal-address",
	"temporal.task_queue":          "task-queue",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "askllm [inputs...]",
		Short: "Ask an LLM a series of questions about every document in a bibliography",
		Long: `askllm runs the queries of a query file against each input document and
writes a JSON report, a CSV table, an exclusion list and a processed-files log.

Inputs are BibTeX files, PDF files or URLs. Query sections that enable
discovery add papers found in the academic index. A run is checkpointed
after every document; --no-clear resumes an interrupted run.`,
		SilenceUsage: true,
		RunE:         runBatch,
	}

	fs := root.PersistentFlags()
	fs.String("config", "", "config file (default: ./config.yaml)")
	fs.BoolP("verbose", "v", false, "debug logging to the console")
	fs.StringP("query-file", "q", "", "query specification file")
	fs.String("provider", "", "model provider (gemini, openai, anthropic)")
	fs.StringP("model", "m", "", "default model for sections without model-name")
	fs.StringP("output", "o", "", "JSON report path")
	fs.String("checkpoint", "", "checkpoint file path")
	fs.String("download-dir", "", "directory for PDFs found by search")
	fs.IntP("concurrency", "j", 0, "documents processed at once")
	fs.Bool("no-clear", false, "keep previous outputs and resume from the checkpoint")
	fs.Bool("google-search", false, "enable web search grounding by default")
	fs.Bool("search-missing-pdfs", true, "search the web for documents without a PDF")
	fs.String("discovery-backend", "", "academic index for discovery (semantic_scholar, openalex)")
	fs.String("cache", "", "response cache backend (file, postgres, redis, none)")
	fs.String("status-addr", "", "serve health, progress and metrics on this address")
	fs.Bool("upload", false, "upload the outputs to object storage after the run")
	fs.String("temporal-address", "", "Temporal server address")
	fs.String("task-queue", "", "Temporal task queue")

	root.AddCommand(newSubmitCmd(), newStopCmd(), newProgressCmd())
	return root
}

// loadConfig reads configuration with the command's flags applied.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	fs := cmd.Flags()
	opts := []config.LoadOption{config.WithFlags(fs, flagBindings)}
	if path, _ := fs.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, fs *pflag.FlagSet) zerolog.Logger {
	lc := observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}
	if verbose, _ := fs.GetBool("verbose"); verbose {
		lc.Level = "debug"
		lc.Format = "console"
		lc.TimeFormat = time.Kitchen
	}
	return observability.NewLogger(lc)
}
