package websearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/llm"
)

// DefaultGroundingModel is a small model; the answer text is ignored and only
// the grounding sources are used.
const DefaultGroundingModel = "gemini-2.5-flash-lite"

// Grounding asks a model with the search tool enabled to find the paper and
// returns the web sources it grounded its answer on.
type Grounding struct {
	invoker  llm.Invoker
	model    string
	resolver *RedirectResolver
	logger   zerolog.Logger
}

var _ Engine = (*Grounding)(nil)

// NewGrounding creates a grounding engine. resolver may be nil, in which case
// grounding redirect links are returned unresolved.
func NewGrounding(invoker llm.Invoker, model string, resolver *RedirectResolver, logger zerolog.Logger) *Grounding {
	if model == "" {
		model = DefaultGroundingModel
	}
	return &Grounding{
		invoker:  invoker,
		model:    model,
		resolver: resolver,
		logger:   logger.With().Str("component", "grounding_search").Logger(),
	}
}

// Name implements Engine.
func (g *Grounding) Name() string { return "grounding" }

// SearchPDFs implements Engine.
func (g *Grounding) SearchPDFs(ctx context.Context, title, authors string) ([]string, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}
	urls, err := g.search(ctx, title, authors, true)
	if err != nil || len(urls) > 0 {
		return urls, err
	}
	g.logger.Debug().Str("title", title).Msg("strict query found nothing, trying relaxed query")
	return g.search(ctx, title, authors, false)
}

func (g *Grounding) search(ctx context.Context, title, authors string, strict bool) ([]string, error) {
	resp, err := g.invoker.Invoke(ctx, llm.Invocation{
		Model:        g.model,
		Prompt:       GroundingPrompt(title, authors, strict),
		UseWebSearch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("grounding search: %w", err)
	}

	urls := llm.GroundingURLs(resp)
	if len(urls) == 0 {
		return nil, nil
	}
	if g.resolver != nil {
		urls = g.resolver.Resolve(ctx, urls)
	}
	return PDFFirst(urls), nil
}

// GroundingPrompt builds the instruction sent to the model, including a
// suggested search query.
func GroundingPrompt(title, authors string, strict bool) string {
	title = strings.TrimSpace(title)
	surname := FirstAuthorSurname(authors)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Find the PDF for this paper: %q", title)
	if surname != "" {
		fmt.Fprintf(&sb, " by %s", surname)
	}

	var suggested string
	if strict {
		suggested = fmt.Sprintf("intitle:%q %s filetype:pdf -site:jstor.org -site:researchgate.net", title, surname)
	} else {
		suggested = fmt.Sprintf("%s %s filetype:pdf -site:jstor.org -site:researchgate.net", title, surname)
	}
	fmt.Fprintf(&sb, "\n\nSuggested query: `%s`", strings.Join(strings.Fields(suggested), " "))
	return sb.String()
}
