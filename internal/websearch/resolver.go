package websearch

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultResolveTimeout = 10 * time.Second
	resolverUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// RedirectResolver follows redirects (such as grounding redirect links) to the
// final URL with HEAD requests.
type RedirectResolver struct {
	client *http.Client
	logger zerolog.Logger
}

// NewRedirectResolver creates a resolver. A zero timeout uses 10 seconds.
func NewRedirectResolver(timeout time.Duration, transport http.RoundTripper, logger zerolog.Logger) *RedirectResolver {
	if timeout == 0 {
		timeout = defaultResolveTimeout
	}
	return &RedirectResolver{
		client: &http.Client{Timeout: timeout, Transport: transport},
		logger: logger.With().Str("component", "redirect_resolver").Logger(),
	}
}

// Resolve returns the final URL for each input in order. A URL that cannot be
// resolved is kept as is.
func (r *RedirectResolver) Resolve(ctx context.Context, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, r.resolveOne(ctx, u))
	}
	return out
}

func (r *RedirectResolver) resolveOne(ctx context.Context, rawURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return rawURL
	}
	req.Header.Set("User-Agent", resolverUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Str("url", rawURL).Msg("redirect resolution failed")
		return rawURL
	}
	_ = resp.Body.Close()

	if resp.Request == nil {
		return rawURL
	}
	if resolved := resp.Request.URL.String(); resolved != rawURL {
		r.logger.Debug().Str("url", rawURL).Str("resolved", resolved).Msg("resolved redirect")
		return resolved
	}
	return rawURL
}
