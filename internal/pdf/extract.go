package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	lpdf "github.com/ledongthuc/pdf"

	"github.com/helixir/ask-llm/internal/domain"
)

// TextExtractor reads the text layer of PDF files. An unreadable file is
// reported as a *domain.ExtractionError.
type TextExtractor struct {
	// MaxChars truncates the returned text. Zero means no limit.
	MaxChars int
}

// ExtractFile reads path and extracts its text.
func (x TextExtractor) ExtractFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", &domain.ExtractionError{Path: path, Err: err}
	}
	return x.Extract(path, content)
}

// Extract returns the plain text of content. name labels errors.
func (x TextExtractor) Extract(name string, content []byte) (text string, err error) {
	if !HasSignature(content) {
		return "", &domain.ExtractionError{Path: name, Err: ErrNotPDF}
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", &domain.ExtractionError{Path: name, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	reader, err := lpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", &domain.ExtractionError{Path: name, Err: err}
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", &domain.ExtractionError{Path: name, Err: err}
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", &domain.ExtractionError{Path: name, Err: err}
	}

	text = strings.TrimSpace(string(raw))
	if x.MaxChars > 0 {
		if r := []rune(text); len(r) > x.MaxChars {
			text = string(r[:x.MaxChars])
		}
	}
	return text, nil
}
