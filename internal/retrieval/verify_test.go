package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/ask-llm/internal/llm"
)

type stubInvoker struct {
	text string
	err  error
	last llm.Invocation
}

func (s *stubInvoker) Invoke(_ context.Context, inv llm.Invocation) (*llm.Response, error) {
	s.last = inv
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.text}, nil
}

func (s *stubInvoker) Provider() string { return "stub" }

func TestLLMVerifier_Verify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"confident match", `{"matches": true, "confidence": 0.92, "reason": "same title"}`, true},
		{"threshold is inclusive", `{"matches": true, "confidence": 0.7, "reason": "close"}`, true},
		{"low confidence", `{"matches": true, "confidence": 0.5, "reason": "unsure"}`, false},
		{"mismatch", `{"matches": false, "confidence": 0.99, "reason": "different paper"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &stubInvoker{text: tt.text}
			v := NewLLMVerifier(inv, "gemini-2.5-flash", 0, zerolog.Nop())

			got, err := v.Verify(context.Background(), path, "Deep Learning", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			assert.Equal(t, []byte("%PDF-1.4"), inv.last.Document.PDF)
			assert.JSONEq(t, string(verificationSchema), string(inv.last.Schema))
			assert.Contains(t, inv.last.Prompt, `- Title: "Deep Learning"`)
			assert.Contains(t, inv.last.Prompt, `- Authors: "Not specified"`)
		})
	}
}

func TestLLMVerifier_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	t.Run("invoker error", func(t *testing.T) {
		v := NewLLMVerifier(&stubInvoker{err: errors.New("boom")}, "", 0, zerolog.Nop())
		_, err := v.Verify(context.Background(), path, "T", "")
		assert.Error(t, err)
	})

	t.Run("non json answer", func(t *testing.T) {
		v := NewLLMVerifier(&stubInvoker{text: "yes"}, "", 0, zerolog.Nop())
		_, err := v.Verify(context.Background(), path, "T", "")
		assert.ErrorContains(t, err, "decode response")
	})

	t.Run("missing file", func(t *testing.T) {
		v := NewLLMVerifier(&stubInvoker{}, "", 0, zerolog.Nop())
		_, err := v.Verify(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"), "T", "")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
