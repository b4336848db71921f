package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Document is the content attached to an invocation. At most one of PDF or
// URL is set; metadata-only units attach nothing and carry their text in the
// prompt.
type Document struct {
	// PDF holds the raw file bytes sent inline.
	PDF []byte
	// Filename is reported to providers that accept a file name.
	Filename string
	// URL is handed to the provider's URL context tool.
	URL string
}

// Invocation is a single model call.
type Invocation struct {
	Model       string
	Prompt      string
	Temperature *float64
	// UseWebSearch enables the provider's web search grounding tool.
	UseWebSearch bool
	// Schema requests structured JSON output conforming to it.
	Schema   json.RawMessage
	Document Document
}

// Response is the result of a successful invocation.
type Response struct {
	// Text is the concatenated text output of the first candidate.
	Text string
	// Grounding holds source attribution returned by grounded or URL context
	// calls, keyed "grounding" and "url_context". Nil when there is none.
	Grounding map[string]interface{}
	// Raw is the provider response body, kept for the run log.
	Raw          json.RawMessage
	Model        string
	InputTokens  int
	OutputTokens int
}

// Invoker sends invocations to a model provider. Implementations make one
// attempt per call; retry policy belongs to the caller.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (*Response, error)
	// Provider returns the name of the model provider.
	Provider() string
}

// Router dispatches invocations by model name prefix, so a query file may mix
// models from several providers.
type Router struct {
	fallback Invoker
	routes   []route
}

type route struct {
	prefix  string
	invoker Invoker
}

var _ Invoker = (*Router)(nil)

// NewRouter creates a router sending unmatched models to fallback.
func NewRouter(fallback Invoker) *Router {
	return &Router{fallback: fallback}
}

// Route sends models starting with prefix to invoker.
func (r *Router) Route(prefix string, invoker Invoker) *Router {
	r.routes = append(r.routes, route{prefix: prefix, invoker: invoker})
	return r
}

// Invoke implements Invoker.
func (r *Router) Invoke(ctx context.Context, inv Invocation) (*Response, error) {
	target := r.For(inv.Model)
	if target == nil {
		return nil, &ProviderError{
			Provider: "router",
			Kind:     KindInvalidRequest,
			Message:  fmt.Sprintf("no provider configured for model %q", inv.Model),
		}
	}
	return target.Invoke(ctx, inv)
}

// For returns the invoker handling model.
func (r *Router) For(model string) Invoker {
	for _, rt := range r.routes {
		if strings.HasPrefix(model, rt.prefix) {
			return rt.invoker
		}
	}
	return r.fallback
}

// Provider returns the fallback provider name.
func (r *Router) Provider() string {
	if r.fallback == nil {
		return "router"
	}
	return r.fallback.Provider()
}

// newHTTPClient builds the provider HTTP client. A nil transport gets a
// pooled default.
func newHTTPClient(timeout time.Duration, transport http.RoundTripper) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
