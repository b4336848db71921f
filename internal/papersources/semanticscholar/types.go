// Package semanticscholar provides a discovery client for the Semantic
// Scholar Graph API.
//
// Bulk search (/paper/search/bulk) is the default; it pages with a
// continuation token and supports sorting. Relevance-ranked search
// (/paper/search) pages with an offset and is selected per query.
//
// API Documentation: https://api.semanticscholar.org/api-docs/
package semanticscholar

// BulkSearchResponse is the body of /paper/search/bulk.
type BulkSearchResponse struct {
	// Total is the approximate number of matching papers.
	Total int `json:"total"`

	// Token continues the search. Empty on the last page.
	Token string `json:"token"`

	Data []PaperResult `json:"data"`
}

// SearchResponse is the body of the relevance-ranked /paper/search.
type SearchResponse struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`

	// Next is the offset of the next page. Zero when there are no more.
	Next int `json:"next"`

	Data []PaperResult `json:"data"`
}

// PaperResult represents a single paper in a search response.
type PaperResult struct {
	PaperID       string         `json:"paperId"`
	Title         string         `json:"title"`
	Abstract      string         `json:"abstract"`
	Year          int            `json:"year"`
	Venue         string         `json:"venue"`
	URL           string         `json:"url"`
	Authors       []Author       `json:"authors"`
	CitationCount int            `json:"citationCount"`
	OpenAccessPDF *OpenAccessPDF `json:"openAccessPdf,omitempty"`
	ExternalIDs   *ExternalIDs   `json:"externalIds,omitempty"`
}

// ExternalIDs contains external identifiers for a paper.
type ExternalIDs struct {
	DOI    string `json:"DOI,omitempty"`
	ArXiv  string `json:"ArXiv,omitempty"`
	PubMed string `json:"PubMed,omitempty"`
}

// Author is a paper author.
type Author struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

// OpenAccessPDF locates the open access copy of a paper.
type OpenAccessPDF struct {
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// ErrorResponse represents an error body from the API.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
