package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultGeminiModel is used when an invocation names no model.
	DefaultGeminiModel = "gemini-2.5-flash"

	geminiAPIKeyHeader = "x-goog-api-key"
)

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	Tools            []map[string]struct{}  `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiCandidate struct {
	Content struct {
		Parts []geminiPart `json:"parts"`
	} `json:"content"`
	FinishReason       string                 `json:"finishReason"`
	GroundingMetadata  map[string]interface{} `json:"groundingMetadata,omitempty"`
	URLContextMetadata map[string]interface{} `json:"urlContextMetadata,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// GeminiConfig holds the parameters needed to create a Gemini provider.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	// Transport carries requests, typically through the response cache.
	Transport http.RoundTripper
}

// GeminiProvider implements Invoker using the generateContent endpoint.
// PDFs are sent inline, URLs through the url_context tool and web search
// through the googleSearch tool.
type GeminiProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

var _ Invoker = (*GeminiProvider)(nil)

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg GeminiConfig, timeout time.Duration) *GeminiProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiProvider{
		httpClient: newHTTPClient(timeout, cfg.Transport),
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Provider returns the name of the model provider.
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Invoke sends one generateContent request.
func (p *GeminiProvider) Invoke(ctx context.Context, inv Invocation) (*Response, error) {
	model := inv.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	body, err := json.Marshal(buildGeminiRequest(inv))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(geminiAPIKeyHeader, p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, networkError("gemini", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, networkError("gemini", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseGeminiAPIError(resp.StatusCode, respBody)
	}

	var genResp geminiResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, &ProviderError{Provider: "gemini", Kind: KindTransient, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("failed to unmarshal response: %v", err)}
	}
	return parseGeminiResponse(model, &genResp, respBody)
}

func buildGeminiRequest(inv Invocation) geminiRequest {
	var parts []geminiPart
	tools := []map[string]struct{}{}

	switch {
	case len(inv.Document.PDF) > 0:
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "application/pdf",
			Data:     base64.StdEncoding.EncodeToString(inv.Document.PDF),
		}})
	case inv.Document.URL != "":
		tools = append(tools, map[string]struct{}{"url_context": {}})
	}
	parts = append(parts, geminiPart{Text: inv.Prompt})

	if inv.UseWebSearch {
		tools = append(tools, map[string]struct{}{"googleSearch": {}})
	}

	req := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{Temperature: inv.Temperature},
	}
	if len(tools) > 0 {
		req.Tools = tools
	}
	if len(inv.Schema) > 0 {
		req.GenerationConfig.ResponseMimeType = "application/json"
		req.GenerationConfig.ResponseSchema = inv.Schema
	}
	return req
}

func parseGeminiResponse(model string, resp *geminiResponse, raw []byte) (*Response, error) {
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, &ProviderError{Provider: "gemini", Kind: KindInvalidRequest, StatusCode: http.StatusOK,
				Type: resp.PromptFeedback.BlockReason, Message: "prompt blocked"}
		}
		return nil, &ProviderError{Provider: "gemini", Kind: KindTransient, StatusCode: http.StatusOK,
			Message: "response contains no candidates"}
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return nil, &ProviderError{Provider: "gemini", Kind: KindTransient, StatusCode: http.StatusOK,
			Type: cand.FinishReason, Message: "response contains no text"}
	}

	out := &Response{
		Text:         sb.String(),
		Raw:          json.RawMessage(raw),
		Model:        model,
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
	if cand.GroundingMetadata != nil || cand.URLContextMetadata != nil {
		out.Grounding = map[string]interface{}{}
		if cand.GroundingMetadata != nil {
			out.Grounding["grounding"] = cand.GroundingMetadata
		}
		if cand.URLContextMetadata != nil {
			out.Grounding["url_context"] = cand.URLContextMetadata
		}
	}
	return out, nil
}

// GroundingURLs returns the web URIs of the grounding chunks in a response.
func GroundingURLs(resp *Response) []string {
	if resp == nil || resp.Grounding == nil {
		return nil
	}
	meta, _ := resp.Grounding["grounding"].(map[string]interface{})
	chunks, _ := meta["groundingChunks"].([]interface{})

	var urls []string
	for _, c := range chunks {
		chunk, _ := c.(map[string]interface{})
		web, _ := chunk["web"].(map[string]interface{})
		if uri, _ := web["uri"].(string); uri != "" {
			urls = append(urls, uri)
		}
	}
	return urls
}

func parseGeminiAPIError(statusCode int, body []byte) *ProviderError {
	message := strings.TrimSpace(string(body))
	var errType string

	var errResp geminiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		errType = errResp.Error.Status
	}

	kind := classifyStatus(statusCode, message)
	if errType == "RESOURCE_EXHAUSTED" {
		kind = KindRateLimited
	}
	return &ProviderError{
		Provider:   "gemini",
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Type:       errType,
	}
}
