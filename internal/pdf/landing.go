package pdf

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"
)

// LandingPageExtractor scans an HTML article page for links to its PDF:
// citation_pdf_url meta tags first, then anchors pointing at .pdf files.
type LandingPageExtractor struct {
	userAgent            string
	timeout              time.Duration
	transport            http.RoundTripper
	allowPrivateNetworks bool
	logger               zerolog.Logger
}

// NewLandingPageExtractor creates an extractor sharing the downloader's
// network settings.
func NewLandingPageExtractor(cfg Config, logger zerolog.Logger) *LandingPageExtractor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &LandingPageExtractor{
		userAgent:            cfg.UserAgent,
		timeout:              cfg.Timeout,
		transport:            cfg.Transport,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
		logger:               logger.With().Str("component", "landing_page").Logger(),
	}
}

// PDFLinks returns absolute PDF links found on the page, meta tags first.
func (e *LandingPageExtractor) PDFLinks(ctx context.Context, pageURL string) ([]string, error) {
	if !e.allowPrivateNetworks {
		if err := validateURLNotPrivate(pageURL); err != nil {
			return nil, err
		}
	}

	c := colly.NewCollector(
		colly.UserAgent(e.userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(e.timeout)
	if e.transport != nil {
		c.WithTransport(e.transport)
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	var meta, anchors []string
	seen := make(map[string]bool)
	add := func(list *[]string, link string) {
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		*list = append(*list, link)
	}

	c.OnHTML(`meta[name="citation_pdf_url"]`, func(el *colly.HTMLElement) {
		add(&meta, el.Request.AbsoluteURL(strings.TrimSpace(el.Attr("content"))))
	})
	c.OnHTML("a[href]", func(el *colly.HTMLElement) {
		href := strings.TrimSpace(el.Attr("href"))
		if looksLikePDFLink(href) {
			add(&anchors, el.Request.AbsoluteURL(href))
		}
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("landing page %s: HTTP %d: %w", r.Request.URL, r.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("landing page %s: %w", pageURL, err)
	}
	if visitErr != nil {
		return nil, visitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	links := append(meta, anchors...)
	e.logger.Debug().Str("url", pageURL).Int("links", len(links)).Msg("scanned landing page")
	return links, nil
}

func looksLikePDFLink(href string) bool {
	h := strings.ToLower(href)
	if i := strings.IndexAny(h, "?#"); i >= 0 {
		h = h[:i]
	}
	return strings.HasSuffix(h, ".pdf") || strings.Contains(h, "/pdf/")
}
