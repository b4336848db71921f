package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/papersources"
)

const (
	// DefaultQwantBaseURL is the Qwant API root.
	DefaultQwantBaseURL = "https://api.qwant.com"

	// DefaultQwantMinDelay and DefaultQwantMaxDelay bound the random spacing
	// between consecutive Qwant requests.
	DefaultQwantMinDelay = 3 * time.Second
	DefaultQwantMaxDelay = 7 * time.Second

	qwantResultCount = 10
	qwantUserAgent   = "Mozilla/5.0 (X11; Linux x86_64; rv:139.0) Gecko/20100101 Firefox/139.0"
)

var qwantDevices = []string{"desktop", "smartphone", "tablet"}

// QwantConfig configures the Qwant engine.
type QwantConfig struct {
	BaseURL  string
	MinDelay time.Duration
	MaxDelay time.Duration
	Timeout  time.Duration

	// Transport is typically the response cache.
	Transport http.RoundTripper
}

// Qwant searches the Qwant web index.
type Qwant struct {
	client  *http.Client
	baseURL string
	limiter *papersources.JitterLimiter
	logger  zerolog.Logger
	device  func() string
}

var _ Engine = (*Qwant)(nil)

// NewQwant creates a Qwant engine.
func NewQwant(cfg QwantConfig, logger zerolog.Logger) *Qwant {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultQwantBaseURL
	}
	if cfg.MinDelay == 0 && cfg.MaxDelay == 0 {
		cfg.MinDelay, cfg.MaxDelay = DefaultQwantMinDelay, DefaultQwantMaxDelay
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Qwant{
		client:  &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limiter: papersources.NewJitterLimiter(cfg.MinDelay, cfg.MaxDelay),
		logger:  logger.With().Str("component", "qwant").Logger(),
		device:  func() string { return qwantDevices[rand.IntN(len(qwantDevices))] },
	}
}

// Name implements Engine.
func (q *Qwant) Name() string { return "qwant" }

// SearchPDFs implements Engine.
func (q *Qwant) SearchPDFs(ctx context.Context, title, authors string) ([]string, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}
	urls, err := q.search(ctx, StrictQuery(title, authors))
	if err != nil || len(urls) > 0 {
		return urls, err
	}
	q.logger.Debug().Str("title", title).Msg("strict query found nothing, trying relaxed query")
	return q.search(ctx, RelaxedQuery(title, authors))
}

type qwantResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result struct {
			Items struct {
				Mainline []struct {
					Type  string `json:"type"`
					Items []struct {
						URL string `json:"url"`
					} `json:"items"`
				} `json:"mainline"`
			} `json:"items"`
		} `json:"result"`
	} `json:"data"`
}

func (q *Qwant) search(ctx context.Context, query string) ([]string, error) {
	if err := q.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprint(qwantResultCount))
	params.Set("locale", "en_gb")
	params.Set("offset", "0")
	params.Set("device", q.device())
	params.Set("tgp", "2")
	params.Set("safesearch", "1")
	params.Set("displayed", "false")
	params.Set("llm", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/v3/search/web?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("qwant: build request: %w", err)
	}
	req.Header.Set("User-Agent", qwantUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US;q=0.7,en;q=0.3")
	req.Header.Set("Referer", "https://www.qwant.com/")
	req.Header.Set("Origin", "https://www.qwant.com")
	req.Header.Set("DNT", "1")

	q.logger.Debug().Str("query", query).Msg("searching")

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwant: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qwant: read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.NewRateLimitError("qwant", 0)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError("qwant", resp.StatusCode, truncateBody(body), nil)
	}

	var parsed qwantResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("qwant: decode response: %w", err)
	}
	if parsed.Status != "success" {
		return nil, domain.NewExternalAPIError("qwant", resp.StatusCode, "status "+parsed.Status, nil)
	}

	var urls []string
	for _, block := range parsed.Data.Result.Items.Mainline {
		if block.Type != "web" {
			continue
		}
		for _, item := range block.Items {
			if item.URL != "" {
				urls = append(urls, item.URL)
			}
		}
		break
	}
	return PDFFirst(urls), nil
}

func truncateBody(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
