package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/papersources"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the polite pool rate in requests per second.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the result limit of a discovery query that sets none.
	DefaultMaxResults = 100

	// DefaultSort orders results by citation count.
	DefaultSort = "cited_by_count:desc"

	// maxPerPage is the OpenAlex page size ceiling.
	maxPerPage = 200

	openAlexIDPrefix = "https://openalex.org/"

	sourceName = "OpenAlex"
)

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Email is sent as mailto to join the polite pool.
	Email string

	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxResults int
	Enabled    bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements papersources.PaperSource for OpenAlex.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates a new OpenAlex client with its own HTTP client.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	userAgent := papersources.DefaultUserAgent
	if cfg.Email != "" {
		userAgent += " (mailto:" + cfg.Email + ")"
	}
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		UserAgent:  userAgent,
		SourceName: string(domain.SourceTypeOpenAlex),
	})

	return &Client{config: cfg, httpClient: httpClient}
}

// NewWithHTTPClient creates a client that shares an existing HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{config: cfg, httpClient: httpClient}
}

// Search queries the works endpoint, following cursors until the limit is
// reached or results run out.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	startTime := time.Now()
	limit := params.Limit(c.config.MaxResults)

	var (
		papers []*domain.Paper
		total  int
		cursor = "*"
	)
	for len(papers) < limit && cursor != "" {
		searchURL, err := c.buildSearchURL(params, min(limit-len(papers), maxPerPage), cursor)
		if err != nil {
			return nil, fmt.Errorf("building search URL: %w", err)
		}

		page, err := c.fetch(ctx, searchURL)
		if err != nil {
			return nil, err
		}
		total = page.Meta.Count

		for i := range page.Results {
			if paper := workToPaper(&page.Results[i]); paper != nil {
				papers = append(papers, paper)
			}
		}
		if len(page.Results) == 0 {
			break
		}
		cursor = page.Meta.NextCursor
	}
	if len(papers) > limit {
		papers = papers[:limit]
	}

	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   total,
		Source:         domain.SourceTypeOpenAlex,
		SearchDuration: time.Since(startTime),
	}, nil
}

func (c *Client) fetch(ctx context.Context, searchURL string) (*SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &searchResp, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeOpenAlex
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) buildSearchURL(params papersources.SearchParams, perPage int, cursor string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL = baseURL.JoinPath("works")

	query := url.Values{}
	if params.Query != "" {
		query.Set("search", params.Query)
	}
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("cursor", cursor)
	query.Set("sort", sortKey(params.Discovery))

	filters := buildFilters(params.Discovery)
	if d := params.Discovery; d != nil {
		for k, v := range d.Extra {
			switch k {
			case "filter":
				filters = append(filters, v)
			case "cursor", "per_page", "page":
			default:
				query.Set(k, v)
			}
		}
	}
	if len(filters) > 0 {
		query.Set("filter", strings.Join(filters, ","))
	}

	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// sortKey translates the discovery sort, written in Semantic Scholar's
// field:direction form, into an OpenAlex sort.
func sortKey(d *domain.DiscoveryParams) string {
	if d == nil {
		return DefaultSort
	}
	if d.Relevance {
		return "relevance_score:desc"
	}
	if d.Sort == "" {
		return DefaultSort
	}

	field, dir, _ := strings.Cut(d.Sort, ":")
	if dir == "" {
		dir = "asc"
	}
	switch field {
	case "citationCount":
		field = "cited_by_count"
	case "publicationDate":
		field = "publication_date"
	case "paperId":
		field = "display_name"
	}
	return field + ":" + dir
}

func buildFilters(d *domain.DiscoveryParams) []string {
	if d == nil {
		return nil
	}
	var filters []string

	if d.Year != "" {
		filters = append(filters, "publication_year:"+d.Year)
	}
	if d.PublicationDateOrYear != "" {
		from, to, _ := strings.Cut(d.PublicationDateOrYear, ":")
		if from = expandDate(from, false); from != "" {
			filters = append(filters, "from_publication_date:"+from)
		}
		if to = expandDate(to, true); to != "" {
			filters = append(filters, "to_publication_date:"+to)
		}
	}
	if d.MinCitationCount != nil && *d.MinCitationCount > 0 {
		filters = append(filters, fmt.Sprintf("cited_by_count:>%d", *d.MinCitationCount-1))
	}
	if d.OpenAccessPDF {
		filters = append(filters, "open_access.is_oa:true")
	}
	if d.PublicationTypes != "" {
		types := strings.Split(d.PublicationTypes, ",")
		for i, t := range types {
			types[i] = workType(strings.TrimSpace(t))
		}
		filters = append(filters, "type:"+strings.Join(types, "|"))
	}
	return filters
}

// expandDate turns YYYY or YYYY-MM into a full date at the start or end of
// the period.
func expandDate(s string, end bool) string {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 4:
		if end {
			return s + "-12-31"
		}
		return s + "-01-01"
	case 7:
		t, err := time.Parse("2006-01", s)
		if err != nil {
			return ""
		}
		if end {
			t = t.AddDate(0, 1, -1)
		}
		return t.Format("2006-01-02")
	case 10:
		return s
	}
	return ""
}

func workType(s2Type string) string {
	switch s2Type {
	case "JournalArticle":
		return "article"
	case "Review":
		return "review"
	case "Book":
		return "book"
	case "BookSection":
		return "book-chapter"
	case "Dataset":
		return "dataset"
	}
	return strings.ToLower(s2Type)
}

func workToPaper(work *Work) *domain.Paper {
	ids := domain.PaperIdentifiers{
		DOI:        domain.NormalizeDOI(work.DOI),
		PubMedID:   strings.TrimSpace(strings.TrimPrefix(work.IDs.PMID, "https://pubmed.ncbi.nlm.nih.gov/")),
		OpenAlexID: strings.TrimSpace(strings.TrimPrefix(work.ID, openAlexIDPrefix)),
	}
	if ids.DOI == "" {
		ids.DOI = domain.NormalizeDOI(work.IDs.DOI)
	}
	if domain.GenerateCanonicalID(ids) == "" {
		return nil
	}

	title := work.DisplayName
	if title == "" {
		title = work.Title
	}

	paper := &domain.Paper{
		Source:        domain.SourceTypeOpenAlex,
		SourceID:      ids.OpenAlexID,
		Identifiers:   ids,
		Title:         strings.TrimSpace(title),
		Abstract:      reconstructAbstract(work.AbstractInvertedIndex),
		Year:          work.PublicationYear,
		URL:           work.ID,
		CitationCount: work.CitedByCount,
	}

	for _, authorship := range work.Authorships {
		if name := strings.TrimSpace(authorship.Author.DisplayName); name != "" {
			paper.Authors = append(paper.Authors, domain.Author{Name: name})
		}
	}

	if loc := work.PrimaryLocation; loc != nil {
		if loc.Source != nil {
			paper.Venue = loc.Source.DisplayName
		}
		if loc.LandingURL != "" {
			paper.URL = loc.LandingURL
		}
		paper.PDFURL = loc.PDFURL
	}
	if oa := work.OpenAccess; oa != nil {
		paper.OpenAccess = oa.IsOA
		if paper.PDFURL == "" {
			paper.PDFURL = oa.OAURL
		}
	}
	return paper
}

// reconstructAbstract rebuilds abstract text from OpenAlex's inverted index.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	const maxAbstractWords = 100_000
	totalPairs := 0
	for _, positions := range invertedIndex {
		totalPairs += len(positions)
	}
	if totalPairs > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, totalPairs)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, pair := range pairs {
		words[i] = pair.word
	}
	return strings.Join(words, " ")
}
