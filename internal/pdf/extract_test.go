package pdf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/ask-llm/internal/domain"
)

func TestTextExtractor_Errors(t *testing.T) {
	var x TextExtractor

	t.Run("missing file", func(t *testing.T) {
		_, err := x.ExtractFile(filepath.Join(t.TempDir(), "missing.pdf"))
		var extErr *domain.ExtractionError
		require.ErrorAs(t, err, &extErr)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("not a pdf", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.pdf")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

		_, err := x.ExtractFile(path)
		var extErr *domain.ExtractionError
		require.ErrorAs(t, err, &extErr)
		assert.Equal(t, path, extErr.Path)
		assert.ErrorIs(t, err, domain.ErrNotPDF)
	})

	t.Run("truncated pdf", func(t *testing.T) {
		_, err := x.Extract("broken.pdf", []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n"))
		var extErr *domain.ExtractionError
		assert.ErrorAs(t, err, &extErr)
	})
}

func TestHasSignature(t *testing.T) {
	assert.True(t, HasSignature([]byte("%PDF-1.7")))
	assert.False(t, HasSignature([]byte("%PDF")))
	assert.False(t, HasSignature([]byte(" %PDF-1.7")))
}
