package llm

import (
	"fmt"
	"net/http"
	"time"
)

// FactoryConfig holds the parameters needed to create an Invoker.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type FactoryConfig struct {
	// Provider is the default provider ("gemini", "openai" or "anthropic").
	Provider string
	// Timeout bounds a single model call.
	Timeout time.Duration
	// Transport is shared by every provider, typically the response cache.
	Transport http.RoundTripper

	Gemini    GeminiConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
}

// NewInvoker creates the invoker for the configured provider. Providers with
// an API key are also reachable by model prefix: "gemini" models go to
// Gemini, "gpt-", "o1", "o3" and "o4" to OpenAI, "claude" to Anthropic.
func NewInvoker(cfg FactoryConfig) (*Router, error) {
	if cfg.Gemini.Transport == nil {
		cfg.Gemini.Transport = cfg.Transport
	}
	if cfg.OpenAI.Transport == nil {
		cfg.OpenAI.Transport = cfg.Transport
	}
	if cfg.Anthropic.Transport == nil {
		cfg.Anthropic.Transport = cfg.Transport
	}

	providers := map[string]Invoker{}
	if cfg.Gemini.APIKey != "" || cfg.Provider == "gemini" {
		providers["gemini"] = NewGeminiProvider(cfg.Gemini, cfg.Timeout)
	}
	if cfg.OpenAI.APIKey != "" || cfg.Provider == "openai" {
		providers["openai"] = NewOpenAIProvider(cfg.OpenAI, cfg.Timeout)
	}
	if cfg.Anthropic.APIKey != "" || cfg.Provider == "anthropic" {
		providers["anthropic"] = NewAnthropicProvider(cfg.Anthropic, cfg.Timeout)
	}

	fallback, ok := providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}

	router := NewRouter(fallback)
	if p, ok := providers["gemini"]; ok {
		router.Route("gemini", p)
	}
	if p, ok := providers["openai"]; ok {
		router.Route("gpt-", p).Route("o1", p).Route("o3", p).Route("o4", p)
	}
	if p, ok := providers["anthropic"]; ok {
		router.Route("claude", p)
	}
	return router, nil
}
