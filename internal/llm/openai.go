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

// Default values for the OpenAI provider.
const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"
)

// chatRequest represents the OpenAI Chat Completions API request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	// WebSearchOptions enables search on the search-preview models.
	WebSearchOptions *struct{} `json:"web_search_options,omitempty"`
}

// chatMessage carries either plain string content or content parts.
type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatContentPart struct {
	Type string        `json:"type"`
	Text string        `json:"text,omitempty"`
	File *chatFilePart `json:"file,omitempty"`
}

type chatFilePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// responseFormat specifies the output format for the API response.
type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// chatResponse represents the OpenAI Chat Completions API response body.
type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role        string                   `json:"role"`
		Content     string                   `json:"content"`
		Refusal     string                   `json:"refusal,omitempty"`
		Annotations []map[string]interface{} `json:"annotations,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIErrorResponse struct {
	Error openAIErrorDetail `json:"error"`
}

type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// OpenAIProvider implements Invoker using the OpenAI Chat Completions API.
type OpenAIProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// OpenAIConfig holds the parameters needed to create an OpenAI provider.
// This is defined in the llm package to avoid importing the config package.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Transport http.RoundTripper
}

var _ Invoker = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI provider.
//
// PDFs are sent as file content parts, schemas as a strict json_schema
// response format. URL documents are referenced in the prompt only.
func NewOpenAIProvider(cfg OpenAIConfig, timeout time.Duration) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIProvider{
		httpClient: newHTTPClient(timeout, cfg.Transport),
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Provider returns the name of the LLM provider.
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Invoke sends one chat completion request.
func (p *OpenAIProvider) Invoke(ctx context.Context, inv Invocation) (*Response, error) {
	model := inv.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	chatReq := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: openAIContent(inv)}},
		Temperature: inv.Temperature,
	}
	if len(inv.Schema) > 0 {
		chatReq.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaSpec{Name: "response", Schema: inv.Schema},
		}
	}
	if inv.UseWebSearch {
		chatReq.WebSearchOptions = &struct{}{}
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, networkError("openai", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, networkError("openai", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseOpenAIAPIError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &ProviderError{Provider: "openai", Kind: KindTransient, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("failed to unmarshal response: %v", err)}
	}
	if len(chatResp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openai", Kind: KindTransient, StatusCode: resp.StatusCode,
			Message: "empty choices in response"}
	}

	msg := chatResp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, &ProviderError{Provider: "openai", Kind: KindInvalidRequest, StatusCode: resp.StatusCode,
			Type: "refusal", Message: msg.Refusal}
	}

	out := &Response{
		Text:         msg.Content,
		Raw:          json.RawMessage(respBody),
		Model:        model,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}
	if len(msg.Annotations) > 0 {
		out.Grounding = map[string]interface{}{"grounding": map[string]interface{}{"annotations": msg.Annotations}}
	}
	return out, nil
}

func openAIContent(inv Invocation) interface{} {
	if len(inv.Document.PDF) == 0 {
		return inv.Prompt
	}
	filename := inv.Document.Filename
	if filename == "" {
		filename = "document.pdf"
	}
	return []chatContentPart{
		{Type: "file", File: &chatFilePart{
			Filename: filename,
			FileData: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(inv.Document.PDF),
		}},
		{Type: "text", Text: inv.Prompt},
	}
}

// parseOpenAIAPIError parses an OpenAI API error from the response status code and body.
func parseOpenAIAPIError(statusCode int, body []byte) *ProviderError {
	apiErr := &ProviderError{
		Provider:   "openai",
		StatusCode: statusCode,
		Message:    strings.TrimSpace(string(body)),
	}

	var errResp openAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		apiErr.Message = errResp.Error.Message
		apiErr.Type = errResp.Error.Type
	}
	apiErr.Kind = classifyStatus(statusCode, apiErr.Message)
	return apiErr
}
