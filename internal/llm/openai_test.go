package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIProvider(OpenAIConfig{APIKey: "test-api-key", BaseURL: server.URL}, 10*time.Second)
}

func TestOpenAIProvider_Invoke(t *testing.T) {
	t.Run("sends file part and json schema", func(t *testing.T) {
		var got map[string]interface{}
		var auth, path string
		provider := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			path = r.URL.Path
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"model": "gpt-4o-2024-08-06",
				"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"relevant\":false}"}, "finish_reason": "stop"}],
				"usage": {"prompt_tokens": 50, "completion_tokens": 5}
			}`))
		})

		resp, err := provider.Invoke(context.Background(), Invocation{
			Model:    "gpt-4o",
			Prompt:   "Relevant?",
			Schema:   json.RawMessage(`{"type":"object"}`),
			Document: Document{PDF: []byte("%PDF-"), Filename: "paper.pdf"},
		})
		require.NoError(t, err)

		assert.Equal(t, "Bearer test-api-key", auth)
		assert.Equal(t, "/chat/completions", path)
		assert.Equal(t, "gpt-4o", got["model"])
		assert.NotContains(t, got, "temperature")

		msg := got["messages"].([]interface{})[0].(map[string]interface{})
		parts := msg["content"].([]interface{})
		require.Len(t, parts, 2)
		file := parts[0].(map[string]interface{})["file"].(map[string]interface{})
		assert.Equal(t, "paper.pdf", file["filename"])
		assert.True(t, strings.HasPrefix(file["file_data"].(string), "data:application/pdf;base64,"))

		format := got["response_format"].(map[string]interface{})
		assert.Equal(t, "json_schema", format["type"])

		assert.Equal(t, `{"relevant":false}`, resp.Text)
		assert.Equal(t, 50, resp.InputTokens)
		assert.Nil(t, resp.Grounding)
	})

	t.Run("plain prompt with web search", func(t *testing.T) {
		var got chatRequest
		provider := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer","annotations":[{"type":"url_citation","url_citation":{"url":"https://a"}}]}}]}`))
		})

		temp := 1.0
		resp, err := provider.Invoke(context.Background(), Invocation{Prompt: "q", Temperature: &temp, UseWebSearch: true})
		require.NoError(t, err)

		assert.Equal(t, "q", got.Messages[0].Content)
		assert.NotNil(t, got.WebSearchOptions)
		require.NotNil(t, got.Temperature)
		assert.Equal(t, 1.0, *got.Temperature)
		assert.Equal(t, defaultOpenAIModel, resp.Model)
		assert.Contains(t, resp.Grounding, "grounding")
	})

	t.Run("refusal is permanent", func(t *testing.T) {
		provider := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","refusal":"I can't help"}}]}`))
		})

		_, err := provider.Invoke(context.Background(), Invocation{Prompt: "q"})
		assert.Equal(t, KindInvalidRequest, KindOf(err))
	})
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limit", 429, `{"error":{"message":"Rate limit reached","type":"requests"}}`, KindRateLimited},
		{"server", 500, `{"error":{"message":"boom","type":"server_error"}}`, KindTransient},
		{"schema", 400, `{"error":{"message":"Invalid schema for response_format 'response'","type":"invalid_request_error"}}`, KindSchemaRejected},
		{"auth", 401, `{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`, KindInvalidRequest},
		{"no choices", 200, `{"choices":[]}`, KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := provider.Invoke(context.Background(), Invocation{Prompt: "q"})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}
