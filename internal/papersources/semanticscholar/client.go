package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the unauthenticated shared pool rate.
	DefaultRateLimit = 1.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the result limit of a discovery query that sets none.
	DefaultMaxResults = 100

	// DefaultSort orders bulk results by citation count.
	DefaultSort = "citationCount:desc"

	// maxRelevancePage is the largest page /paper/search accepts.
	maxRelevancePage = 100

	// maxBulkPage is the largest page /paper/search/bulk returns.
	maxBulkPage = 1000

	apiKeyHeader = "x-api-key"

	paperFields = "title,abstract,authors,year,openAccessPdf,url,citationCount,venue,externalIds"

	sourceName = "Semantic Scholar"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is optional. Authenticated requests have higher rate limits.
	APIKey string

	Timeout   time.Duration
	RateLimit float64
	BurstSize int

	// MaxResults is the limit applied when neither the caller nor the
	// discovery parameters set one.
	MaxResults int

	Enabled bool
}

// Client implements papersources.PaperSource for Semantic Scholar.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
}

var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a new Semantic Scholar client. If httpClient is nil one
// is built from cfg.
func NewClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
			SourceName:   string(domain.SourceTypeSemanticScholar),
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// Search runs a discovery query. Bulk search pages are followed by token
// until the limit is reached; relevance search pages by offset.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()
	limit := params.Limit(c.config.MaxResults)

	var (
		papers []*domain.Paper
		total  int
		err    error
	)
	if params.Discovery != nil && params.Discovery.Relevance {
		papers, total, err = c.searchRelevance(ctx, params, limit)
	} else {
		papers, total, err = c.searchBulk(ctx, params, limit)
	}
	if err != nil {
		return nil, err
	}

	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   total,
		Source:         domain.SourceTypeSemanticScholar,
		SearchDuration: time.Since(start),
	}, nil
}

func (c *Client) searchBulk(ctx context.Context, params papersources.SearchParams, limit int) ([]*domain.Paper, int, error) {
	var (
		papers []*domain.Paper
		total  int
		token  string
	)
	for len(papers) < limit {
		q := c.queryValues(params, true)
		q.Set("limit", strconv.Itoa(min(limit-len(papers), maxBulkPage)))
		if token != "" {
			q.Set("token", token)
		}

		var page BulkSearchResponse
		if err := c.get(ctx, []string{"paper", "search", "bulk"}, q, &page); err != nil {
			return nil, 0, err
		}
		total = page.Total
		papers = append(papers, convertToPapers(page.Data)...)

		if page.Token == "" || len(page.Data) == 0 {
			break
		}
		token = page.Token
	}
	return truncate(papers, limit), total, nil
}

func (c *Client) searchRelevance(ctx context.Context, params papersources.SearchParams, limit int) ([]*domain.Paper, int, error) {
	var (
		papers []*domain.Paper
		total  int
		offset int
	)
	for len(papers) < limit {
		q := c.queryValues(params, false)
		q.Set("limit", strconv.Itoa(min(limit-len(papers), maxRelevancePage)))
		if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}

		var page SearchResponse
		if err := c.get(ctx, []string{"paper", "search"}, q, &page); err != nil {
			return nil, 0, err
		}
		total = page.Total
		papers = append(papers, convertToPapers(page.Data)...)

		if page.Next <= offset || len(page.Data) == 0 {
			break
		}
		offset = page.Next
	}
	return truncate(papers, limit), total, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeSemanticScholar
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// queryValues maps discovery parameters onto API parameters. Sorting is only
// supported by bulk search.
func (c *Client) queryValues(params papersources.SearchParams, bulk bool) url.Values {
	q := url.Values{}
	q.Set("query", params.Query)
	q.Set("fields", paperFields)
	if bulk {
		q.Set("sort", DefaultSort)
	}

	d := params.Discovery
	if d == nil {
		return q
	}
	if d.Sort != "" && bulk {
		q.Set("sort", d.Sort)
	}
	setIf(q, "fieldsOfStudy", d.FieldsOfStudy)
	setIf(q, "publicationTypes", d.PublicationTypes)
	setIf(q, "publicationDateOrYear", d.PublicationDateOrYear)
	setIf(q, "year", d.Year)
	setIf(q, "venue", d.Venue)
	if d.MinCitationCount != nil {
		q.Set("minCitationCount", strconv.Itoa(*d.MinCitationCount))
	}
	if d.OpenAccessPDF {
		q.Set("openAccessPdf", "")
	}
	for k, v := range d.Extra {
		if k == "limit" || k == "token" || k == "offset" {
			continue
		}
		q.Set(k, v)
	}
	return q
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (c *Client) get(ctx context.Context, path []string, q url.Values, out interface{}) error {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}
	u := base.JoinPath(path...)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	var errResp ErrorResponse
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Error != "" {
			message = errResp.Error
		} else if errResp.Message != "" {
			message = errResp.Message
		}
	}
	return domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
}

func convertToPapers(results []PaperResult) []*domain.Paper {
	papers := make([]*domain.Paper, 0, len(results))
	for _, result := range results {
		papers = append(papers, convertToPaper(result))
	}
	return papers
}

func convertToPaper(result PaperResult) *domain.Paper {
	paper := &domain.Paper{
		Source:        domain.SourceTypeSemanticScholar,
		SourceID:      result.PaperID,
		Title:         strings.TrimSpace(result.Title),
		Abstract:      strings.TrimSpace(result.Abstract),
		Year:          result.Year,
		Venue:         strings.TrimSpace(result.Venue),
		URL:           result.URL,
		CitationCount: result.CitationCount,
		Identifiers:   domain.PaperIdentifiers{SemanticScholarID: result.PaperID},
	}

	if result.OpenAccessPDF != nil && result.OpenAccessPDF.URL != "" {
		paper.PDFURL = result.OpenAccessPDF.URL
		paper.OpenAccess = true
	}
	if result.ExternalIDs != nil {
		paper.Identifiers.DOI = result.ExternalIDs.DOI
		paper.Identifiers.ArXivID = result.ExternalIDs.ArXiv
		paper.Identifiers.PubMedID = result.ExternalIDs.PubMed
	}

	for _, a := range result.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			paper.Authors = append(paper.Authors, domain.Author{Name: name})
		}
	}
	return paper
}

func truncate(papers []*domain.Paper, limit int) []*domain.Paper {
	if len(papers) > limit {
		return papers[:limit]
	}
	return papers
}
