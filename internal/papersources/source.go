// Package papersources provides the academic indexes used by discovery
// queries.
//
// Each index implements PaperSource. Selection is static: the resolver asks
// the Registry for the backend named in configuration.
//
//	source := semanticscholar.NewClient(cfg, httpClient)
//	result, err := source.Search(ctx, papersources.SearchParams{
//		Query:     "large language models for peer review",
//		Discovery: def.Discovery,
//	})
package papersources

import (
	"context"
	"time"

	"github.com/helixir/ask-llm/internal/domain"
)

// SearchParams defines one discovery query.
type SearchParams struct {
	// Query is the search query string (required).
	Query string

	// MaxResults bounds the number of papers returned across all pages.
	// A value of 0 uses the source's default limit.
	MaxResults int

	// Discovery carries the index parameters declared by the query section.
	// May be nil.
	Discovery *domain.DiscoveryParams
}

// Limit returns the effective result bound given a source default.
func (p SearchParams) Limit(sourceDefault int) int {
	if p.MaxResults > 0 {
		return p.MaxResults
	}
	if p.Discovery != nil && p.Discovery.Limit > 0 {
		return p.Discovery.Limit
	}
	return sourceDefault
}

// SearchResult contains the results from a paper source search operation.
type SearchResult struct {
	// Papers contains the papers in the index's ranking order.
	Papers []*domain.Paper

	// TotalResults is the total number of papers matching the query as
	// reported by the index. It may be an estimate.
	TotalResults int

	// Source identifies which paper source provided these results.
	Source domain.SourceType

	// SearchDuration is the time taken to execute the search, including
	// every page fetched.
	SearchDuration time.Duration
}

// PaperSource defines the interface that all academic indexes implement.
type PaperSource interface {
	// Search runs a discovery query and returns candidates in ranking order,
	// bounded by the effective limit.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceType returns the type identifier for this paper source.
	SourceType() domain.SourceType

	// Name returns a human-readable name for logging and metrics.
	Name() string

	// IsEnabled returns whether this paper source is available.
	IsEnabled() bool
}
