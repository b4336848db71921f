package websearch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/observability"
)

// Candidate is a URL found by a named engine.
type Candidate struct {
	URL    string
	Engine string
}

// Chain queries engines in order and returns the candidates of the first
// engine that finds any. An engine error is logged and the next engine is
// tried; only cancellation stops the chain.
type Chain struct {
	engines []Engine
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewChain creates a fallback chain over engines.
func NewChain(logger zerolog.Logger, metrics *observability.Metrics, engines ...Engine) *Chain {
	return &Chain{
		engines: engines,
		logger:  logger.With().Str("component", "search_chain").Logger(),
		metrics: metrics,
	}
}

// Engines returns the engine names in fallback order.
func (c *Chain) Engines() []string {
	names := make([]string, len(c.engines))
	for i, e := range c.engines {
		names[i] = e.Name()
	}
	return names
}

// SearchPDFs returns candidates for the paper. An empty result with a nil
// error means no engine found anything.
func (c *Chain) SearchPDFs(ctx context.Context, title, authors string) ([]Candidate, error) {
	for _, engine := range c.engines {
		log := observability.WithSearchContext(c.logger, title, engine.Name())

		urls, err := engine.SearchPDFs(ctx, title, authors)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil, err
			}
			c.metrics.RecordRetrievalAttempt(engine.Name(), "error")
			log.Warn().Err(err).Msg("search engine failed, trying next")
			continue
		}
		if len(urls) == 0 {
			c.metrics.RecordRetrievalAttempt(engine.Name(), "empty")
			log.Debug().Msg("search engine found no candidates")
			continue
		}

		c.metrics.RecordRetrievalAttempt(engine.Name(), "candidates")
		log.Info().Int("candidates", len(urls)).Msg("search engine found candidates")
		out := make([]Candidate, len(urls))
		for i, u := range urls {
			out[i] = Candidate{URL: u, Engine: engine.Name()}
		}
		return out, nil
	}
	return nil, nil
}
