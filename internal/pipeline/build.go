package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/cache"
	"github.com/helixir/ask-llm/internal/checkpoint"
	"github.com/helixir/ask-llm/internal/config"
	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/events"
	"github.com/helixir/ask-llm/internal/executor"
	"github.com/helixir/ask-llm/internal/llm"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/papersources"
	"github.com/helixir/ask-llm/internal/papersources/openalex"
	"github.com/helixir/ask-llm/internal/papersources/semanticscholar"
	"github.com/helixir/ask-llm/internal/pdf"
	"github.com/helixir/ask-llm/internal/queryspec"
	"github.com/helixir/ask-llm/internal/report"
	"github.com/helixir/ask-llm/internal/resolver"
	"github.com/helixir/ask-llm/internal/retrieval"
	"github.com/helixir/ask-llm/internal/websearch"
)

// Components is everything a batch needs, built from configuration.
type Components struct {
	Queries  []domain.QueryDefinition
	Runner   *Runner
	Resolver *resolver.Resolver

	closers []func() error
}

// Resolve returns a ResolveFunc over the given inputs.
func (c *Components) Resolve(inputs []string) ResolveFunc {
	return func(ctx context.Context) ([]*domain.DocumentUnit, error) {
		res, err := c.Resolver.Resolve(ctx, inputs, c.Queries)
		if err != nil {
			return nil, err
		}
		return res.Documents, nil
	}
}

// Close releases files and connections in reverse order of creation.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadQueries parses the configured query file, seeding inheritance with the
// configured default model and web search flag.
func LoadQueries(cfg *config.Config) ([]domain.QueryDefinition, error) {
	text, err := os.ReadFile(cfg.Query.File)
	if err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}
	defaults := queryspec.DefaultInherited()
	if cfg.LLM.DefaultModel != "" {
		defaults.Model = cfg.LLM.DefaultModel
	}
	defaults.UseWebSearch = cfg.Pipeline.GoogleSearch
	return queryspec.ParseWithDefaults(string(text), defaults)
}

// ClearOutputs removes the files of a previous run. Missing files are
// ignored.
func ClearOutputs(out config.OutputConfig) error {
	for _, path := range []string{
		out.Report,
		out.CSVPath(),
		out.Log,
		out.ProcessedList,
		out.ExclusionList,
		out.Checkpoint,
	} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear %s: %w", path, err)
		}
	}
	return nil
}

// Build parses the queries and wires every component of a batch. Outputs of
// a previous run are cleared first unless cfg.Pipeline.NoClear is set. The
// caller must Close the result.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*Components, error) {
	queries, err := LoadQueries(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.Pipeline.NoClear {
		if err := ClearOutputs(cfg.Output); err != nil {
			return nil, err
		}
	}

	c := &Components{Queries: queries}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := cache.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}
	c.closers = append(c.closers, store.Close)
	transport := cache.NewTransport(http.DefaultTransport, store, cfg.Cache.TTL, metrics, logger)
	transport.MaxBodySize = cfg.PDF.MaxSize

	invoker, err := llm.NewInvoker(llm.FactoryConfig{
		Provider:  cfg.LLM.Provider,
		Timeout:   cfg.LLM.Timeout,
		Transport: transport,
		Gemini:    llm.GeminiConfig{APIKey: cfg.LLM.Gemini.APIKey, BaseURL: cfg.LLM.Gemini.BaseURL},
		OpenAI:    llm.OpenAIConfig{APIKey: cfg.LLM.OpenAI.APIKey, BaseURL: cfg.LLM.OpenAI.BaseURL},
		Anthropic: llm.AnthropicConfig{APIKey: cfg.LLM.Anthropic.APIKey, BaseURL: cfg.LLM.Anthropic.BaseURL},
	})
	if err != nil {
		return nil, err
	}

	runLog, err := executor.OpenRunLog(cfg.Output.Log)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, runLog.Close)

	exec, err := executor.New(executor.Config{
		Invoker:        invoker,
		MaxAttempts:    cfg.LLM.MaxAttempts,
		BackoffInitial: cfg.LLM.BackoffInitial,
		BackoffMax:     cfg.LLM.BackoffMax,
		RunLog:         runLog,
		Metrics:        metrics,
	}, queries, logger)
	if err != nil {
		return nil, err
	}

	index, err := newIndex(cfg, transport, metrics)
	if err != nil {
		return nil, err
	}
	c.Resolver = resolver.New(resolver.Config{
		Index:         index,
		Extractor:     pdf.TextExtractor{},
		SideFile:      cfg.Output.DiscoveryBib,
		SearchMissing: cfg.Pipeline.SearchMissingPDFs,
		Metrics:       metrics,
	}, logger)

	var retriever Retriever
	if cfg.Pipeline.SearchMissingPDFs {
		retriever = newStrategy(cfg, invoker, transport, metrics, logger)
	}

	processed, err := report.OpenProcessedLog(cfg.Output.ProcessedList)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, processed.Close)

	publisher := events.Open(cfg.Kafka, logger)
	c.closers = append(c.closers, publisher.Close)

	c.Runner = New(Config{
		Queries:    queries,
		Processor:  exec,
		Retriever:  retriever,
		Checkpoint: checkpoint.NewStore(cfg.Output.Checkpoint, metrics),
		Outputs: report.Outputs{
			Report:     cfg.Output.Report,
			CSV:        cfg.Output.CSVPath(),
			Exclusions: cfg.Output.ExclusionList,
		},
		Processed:   processed,
		Publisher:   publisher,
		Metrics:     metrics,
		Concurrency: cfg.Pipeline.Concurrency,
		Resume:      cfg.Pipeline.NoClear,
	}, logger)

	ok = true
	return c, nil
}

// newIndex builds the academic index selected by configuration.
func newIndex(cfg *config.Config, transport http.RoundTripper, metrics *observability.Metrics) (papersources.PaperSource, error) {
	registry := papersources.NewRegistry()

	ss := cfg.Discovery.SemanticScholar
	registry.Register(semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:    ss.BaseURL,
		APIKey:     ss.APIKey,
		Timeout:    ss.Timeout,
		RateLimit:  ss.RateLimit,
		MaxResults: ss.MaxResults,
		Enabled:    true,
	}, papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:      ss.Timeout,
		RateLimit:    ss.RateLimit,
		APIKey:       ss.APIKey,
		APIKeyHeader: "x-api-key",
		Transport:    transport,
		SourceName:   string(domain.SourceTypeSemanticScholar),
		Metrics:      metrics,
	})))

	oa := cfg.Discovery.OpenAlex
	userAgent := papersources.DefaultUserAgent
	if oa.Mailto != "" {
		userAgent += " (mailto:" + oa.Mailto + ")"
	}
	registry.Register(openalex.NewWithHTTPClient(openalex.Config{
		BaseURL:    oa.BaseURL,
		Email:      oa.Mailto,
		Timeout:    oa.Timeout,
		RateLimit:  oa.RateLimit,
		MaxResults: oa.MaxResults,
		Enabled:    true,
	}, papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:    oa.Timeout,
		RateLimit:  oa.RateLimit,
		UserAgent:  userAgent,
		Transport:  transport,
		SourceName: string(domain.SourceTypeOpenAlex),
		Metrics:    metrics,
	})))

	return registry.Select(domain.SourceType(cfg.Discovery.Backend))
}

// newStrategy builds the retrieval strategy with the configured search
// engines in order.
func newStrategy(cfg *config.Config, invoker llm.Invoker, transport http.RoundTripper, metrics *observability.Metrics, logger zerolog.Logger) *retrieval.Strategy {
	pdfCfg := pdf.Config{
		Timeout:              cfg.PDF.Timeout,
		MaxSize:              cfg.PDF.MaxSize,
		UserAgent:            cfg.PDF.UserAgent,
		AllowPrivateNetworks: cfg.PDF.AllowPrivateNetworks,
		Transport:            transport,
	}

	var engines []websearch.Engine
	for _, name := range cfg.Search.Engines {
		switch name {
		case "grounding":
			model := cfg.Search.GroundingModel
			if model == "" {
				model = cfg.LLM.DefaultModel
			}
			redirects := websearch.NewRedirectResolver(0, transport, logger)
			engines = append(engines, websearch.NewGrounding(invoker, model, redirects, logger))
		case "qwant":
			engines = append(engines, websearch.NewQwant(websearch.QwantConfig{
				BaseURL:   cfg.Search.QwantBaseURL,
				MinDelay:  cfg.Search.MinDelay,
				MaxDelay:  cfg.Search.MaxDelay,
				Transport: transport,
			}, logger))
		}
	}

	sc := retrieval.Config{
		Downloader:  pdf.NewDownloader(pdfCfg),
		Landing:     pdf.NewLandingPageExtractor(pdfCfg, logger),
		DownloadDir: cfg.Output.DownloadDir,
		Metrics:     metrics,
	}
	if len(engines) > 0 {
		sc.Search = websearch.NewChain(logger, metrics, engines...)
	}
	if cfg.Search.Verify {
		sc.Verifier = retrieval.NewLLMVerifier(invoker, cfg.LLM.DefaultModel, cfg.Search.VerifyThreshold, logger)
	}
	return retrieval.NewStrategy(sc, logger)
}
