package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// anthropicAPIVersion is the Anthropic API version header value.
	anthropicAPIVersion = "2023-06-01"

	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 8192
)

// messagesRequest is the request body for the Anthropic Messages API.
type messagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// contentBlock represents a content block in the Anthropic Messages API response.
type contentBlock struct {
	Type      string                   `json:"type"`
	Text      string                   `json:"text,omitempty"`
	Citations []map[string]interface{} `json:"citations,omitempty"`
}

// messagesResponse is the response body from the Anthropic Messages API.
type messagesResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnthropicProvider implements Invoker using the Anthropic Messages API.
// The Messages API has no response schema parameter, so a schema is
// appended to the system prompt and the reply is expected as bare JSON.
type AnthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// AnthropicConfig holds the parameters needed to create an Anthropic provider.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Transport http.RoundTripper
}

var _ Invoker = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates a new AnthropicProvider.
func NewAnthropicProvider(cfg AnthropicConfig, timeout time.Duration) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicProvider{
		httpClient: newHTTPClient(timeout, cfg.Transport),
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Provider returns the name of the LLM provider.
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Invoke sends one Messages API request.
func (p *AnthropicProvider) Invoke(ctx context.Context, inv Invocation) (*Response, error) {
	apiReq := buildAnthropicRequest(inv)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, networkError("anthropic", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, networkError("anthropic", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAnthropicAPIError(httpResp.StatusCode, respBody)
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Kind: KindTransient, StatusCode: httpResp.StatusCode,
			Message: fmt.Sprintf("failed to unmarshal response: %v", err)}
	}
	return parseAnthropicResponse(apiReq.Model, &resp, respBody)
}

func buildAnthropicRequest(inv Invocation) messagesRequest {
	model := inv.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	var blocks []anthropicContentBlock
	switch {
	case len(inv.Document.PDF) > 0:
		blocks = append(blocks, anthropicContentBlock{Type: "document", Source: &anthropicSource{
			Type:      "base64",
			MediaType: "application/pdf",
			Data:      base64.StdEncoding.EncodeToString(inv.Document.PDF),
		}})
	case strings.HasSuffix(strings.ToLower(inv.Document.URL), ".pdf"):
		blocks = append(blocks, anthropicContentBlock{Type: "document", Source: &anthropicSource{
			Type: "url",
			URL:  inv.Document.URL,
		}})
	}
	blocks = append(blocks, anthropicContentBlock{Type: "text", Text: inv.Prompt})

	req := messagesRequest{
		Model:       model,
		MaxTokens:   defaultAnthropicMaxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: blocks}},
		Temperature: inv.Temperature,
	}
	if len(inv.Schema) > 0 {
		req.System = "Respond only with a JSON object, without code fences, that conforms to this JSON schema:\n" + string(inv.Schema)
	}
	if inv.UseWebSearch {
		req.Tools = []anthropicTool{{Type: "web_search_20250305", Name: "web_search"}}
	}
	return req
}

func parseAnthropicResponse(model string, resp *messagesResponse, raw []byte) (*Response, error) {
	var sb strings.Builder
	var citations []map[string]interface{}
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		sb.WriteString(block.Text)
		citations = append(citations, block.Citations...)
	}
	if sb.Len() == 0 {
		return nil, &ProviderError{Provider: "anthropic", Kind: KindTransient, StatusCode: http.StatusOK,
			Type: resp.StopReason, Message: "response contains no text content blocks"}
	}

	if resp.Model != "" {
		model = resp.Model
	}
	out := &Response{
		Text:         sb.String(),
		Raw:          json.RawMessage(raw),
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if len(citations) > 0 {
		out.Grounding = map[string]interface{}{"grounding": map[string]interface{}{"citations": citations}}
	}
	return out, nil
}

// parseAnthropicAPIError parses an Anthropic API error from the response status code and body.
func parseAnthropicAPIError(statusCode int, body []byte) *ProviderError {
	apiErr := &ProviderError{
		Provider:   "anthropic",
		StatusCode: statusCode,
		Message:    strings.TrimSpace(string(body)),
	}

	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
	}
	apiErr.Kind = classifyStatus(statusCode, apiErr.Message)
	if apiErr.Type == "overloaded_error" {
		apiErr.Kind = KindTransient
	}
	return apiErr
}
