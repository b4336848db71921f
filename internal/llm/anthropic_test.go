package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicTestProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL}, 10*time.Second)
}

func TestAnthropicProvider_Invoke(t *testing.T) {
	t.Run("sends document block and schema instruction", func(t *testing.T) {
		var got messagesRequest
		var key, version string
		provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			key = r.Header.Get("x-api-key")
			version = r.Header.Get("anthropic-version")
			assert.Equal(t, "/v1/messages", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			_, _ = w.Write([]byte(`{
				"id": "msg_1",
				"model": "claude-sonnet-4-5-20250929",
				"content": [{"type": "text", "text": "{\"relevant\": true}"}],
				"stop_reason": "end_turn",
				"usage": {"input_tokens": 900, "output_tokens": 12}
			}`))
		})

		resp, err := provider.Invoke(context.Background(), Invocation{
			Model:    "claude-sonnet-4-5",
			Prompt:   "Relevant?",
			Schema:   json.RawMessage(`{"type":"object"}`),
			Document: Document{PDF: []byte("%PDF-")},
		})
		require.NoError(t, err)

		assert.Equal(t, "sk-ant-test", key)
		assert.Equal(t, anthropicAPIVersion, version)
		require.Len(t, got.Messages, 1)
		blocks := got.Messages[0].Content
		require.Len(t, blocks, 2)
		assert.Equal(t, "document", blocks[0].Type)
		assert.Equal(t, "base64", blocks[0].Source.Type)
		assert.Equal(t, "application/pdf", blocks[0].Source.MediaType)
		assert.Equal(t, "Relevant?", blocks[1].Text)
		assert.Contains(t, got.System, `{"type":"object"}`)
		assert.Empty(t, got.Tools)

		assert.Equal(t, `{"relevant": true}`, resp.Text)
		assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
		assert.Equal(t, 900, resp.InputTokens)
	})

	t.Run("pdf URL and web search", func(t *testing.T) {
		var got messagesRequest
		provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			_, _ = w.Write([]byte(`{"content":[
				{"type":"server_tool_use","id":"x"},
				{"type":"text","text":"Found it","citations":[{"type":"web_search_result_location","url":"https://a"}]}
			]}`))
		})

		resp, err := provider.Invoke(context.Background(), Invocation{
			Prompt:       "q",
			UseWebSearch: true,
			Document:     Document{URL: "https://arxiv.org/pdf/1706.03762.pdf"},
		})
		require.NoError(t, err)

		assert.Equal(t, defaultAnthropicModel, got.Model)
		assert.Equal(t, "url", got.Messages[0].Content[0].Source.Type)
		require.Len(t, got.Tools, 1)
		assert.Equal(t, "web_search", got.Tools[0].Name)
		assert.Equal(t, "Found it", resp.Text)
		assert.Contains(t, resp.Grounding, "grounding")
	})
}

func TestAnthropicProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limit", 429, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, KindRateLimited},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, KindTransient},
		{"invalid", 400, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`, KindInvalidRequest},
		{"no text", 200, `{"content":[],"stop_reason":"max_tokens"}`, KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := provider.Invoke(context.Background(), Invocation{Prompt: "q"})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}
