package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvoker(t *testing.T) {
	t.Run("gemini default", func(t *testing.T) {
		router, err := NewInvoker(FactoryConfig{
			Provider: "gemini",
			Timeout:  30 * time.Second,
			Gemini:   GeminiConfig{APIKey: "g-key"},
		})
		require.NoError(t, err)

		assert.Equal(t, "gemini", router.Provider())
		assert.Equal(t, "gemini", router.For("gemini-2.5-flash").Provider())
		assert.Equal(t, "gemini", router.For("gpt-4o").Provider(), "unconfigured providers fall back")
	})

	t.Run("routes by model prefix", func(t *testing.T) {
		router, err := NewInvoker(FactoryConfig{
			Provider:  "gemini",
			Gemini:    GeminiConfig{APIKey: "g"},
			OpenAI:    OpenAIConfig{APIKey: "o"},
			Anthropic: AnthropicConfig{APIKey: "a"},
		})
		require.NoError(t, err)

		assert.Equal(t, "openai", router.For("gpt-4o-mini").Provider())
		assert.Equal(t, "openai", router.For("o3-mini").Provider())
		assert.Equal(t, "anthropic", router.For("claude-sonnet-4-5").Provider())
		assert.Equal(t, "gemini", router.For("gemini-2.5-pro").Provider())
		assert.Equal(t, "gemini", router.For("unknown-model").Provider())
	})

	t.Run("provider without key is still built when selected", func(t *testing.T) {
		router, err := NewInvoker(FactoryConfig{Provider: "anthropic"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", router.Provider())
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := NewInvoker(FactoryConfig{Provider: "cohere"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported LLM provider")
	})
}

type stubInvoker struct {
	name  string
	calls []Invocation
}

func (s *stubInvoker) Invoke(_ context.Context, inv Invocation) (*Response, error) {
	s.calls = append(s.calls, inv)
	return &Response{Text: s.name, Model: inv.Model}, nil
}

func (s *stubInvoker) Provider() string { return s.name }

func TestRouter_Invoke(t *testing.T) {
	fallback := &stubInvoker{name: "fallback"}
	claude := &stubInvoker{name: "claude"}
	router := NewRouter(fallback).Route("claude", claude)

	resp, err := router.Invoke(context.Background(), Invocation{Model: "claude-haiku"})
	require.NoError(t, err)
	assert.Equal(t, "claude", resp.Text)

	resp, err = router.Invoke(context.Background(), Invocation{Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)
	assert.Len(t, fallback.calls, 1)

	_, err = NewRouter(nil).Invoke(context.Background(), Invocation{Model: "x"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}
