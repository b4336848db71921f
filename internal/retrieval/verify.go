package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/llm"
)

// DefaultVerifyThreshold is the minimum confidence for an accepted match.
const DefaultVerifyThreshold = 0.7

var verificationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "matches": {"type": "boolean", "description": "Whether the PDF matches the expected metadata"},
    "confidence": {"type": "number", "description": "Confidence level from 0.0 to 1.0"},
    "reason": {"type": "string", "description": "Brief explanation of the matching decision"},
    "found_title": {"type": "string", "description": "Actual title found in the PDF"},
    "found_authors": {"type": "string", "description": "Actual authors found in the PDF"}
  },
  "required": ["matches", "confidence", "reason"]
}`)

// Verification is the model's judgement of a downloaded PDF.
type Verification struct {
	Matches      bool    `json:"matches"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	FoundTitle   string  `json:"found_title,omitempty"`
	FoundAuthors string  `json:"found_authors,omitempty"`
}

// LLMVerifier asks a model whether a PDF is the expected publication.
type LLMVerifier struct {
	invoker   llm.Invoker
	model     string
	threshold float64
	logger    zerolog.Logger
}

var _ Verifier = (*LLMVerifier)(nil)

// NewLLMVerifier creates a verifier. A zero threshold uses DefaultVerifyThreshold.
func NewLLMVerifier(invoker llm.Invoker, model string, threshold float64, logger zerolog.Logger) *LLMVerifier {
	if threshold == 0 {
		threshold = DefaultVerifyThreshold
	}
	return &LLMVerifier{
		invoker:   invoker,
		model:     model,
		threshold: threshold,
		logger:    logger.With().Str("component", "pdf_verifier").Logger(),
	}
}

// Verify implements Verifier.
func (v *LLMVerifier) Verify(ctx context.Context, path, title, authors string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	resp, err := v.invoker.Invoke(ctx, llm.Invocation{
		Model:    v.model,
		Prompt:   verificationPrompt(title, authors),
		Schema:   verificationSchema,
		Document: llm.Document{PDF: content, Filename: path},
	})
	if err != nil {
		return false, fmt.Errorf("verify %s: %w", path, err)
	}

	var result Verification
	if err := json.Unmarshal([]byte(resp.Text), &result); err != nil {
		return false, fmt.Errorf("verify %s: decode response: %w", path, err)
	}

	accepted := result.Matches && result.Confidence >= v.threshold
	v.logger.Debug().
		Bool("matches", result.Matches).
		Float64("confidence", result.Confidence).
		Str("reason", result.Reason).
		Str("found_title", result.FoundTitle).
		Bool("accepted", accepted).
		Msg("verified PDF")
	return accepted, nil
}

func verificationPrompt(title, authors string) string {
	if authors == "" {
		authors = "Not specified"
	}
	return fmt.Sprintf(`Please analyze this PDF and determine if it matches the expected publication.

Expected metadata:
- Title: %q
- Authors: %q

Please respond with JSON indicating whether this PDF matches the expected publication.
Consider title similarity, author matching, and overall content relevance.
Be strict about matching - minor variations in title are acceptable, but completely different papers should be rejected.`, title, authors)
}
