package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/llm"
)

// content is what a document contributes to every invocation.
type content struct {
	document llm.Document
	// preamble is prepended to the prompt; metadataOnly units wrap it instead.
	preamble     string
	metadataText string
	metadataOnly bool
	missingPath  string
}

// loadContent reads the unit's PDF once per document. A file that cannot be
// read degrades the unit to its bibliographic metadata.
func loadContent(doc *domain.DocumentUnit) (content, error) {
	switch {
	case doc.Source == domain.SourceRemoteURL && doc.URL != "":
		return content{
			document: llm.Document{URL: doc.URL},
			preamble: fmt.Sprintf("Analyze the content from this URL: %s", doc.URL),
		}, nil
	case !doc.IsMetadataOnly && doc.FilePath != "":
		data, err := os.ReadFile(doc.FilePath)
		if err != nil {
			return metadataContent(doc), err
		}
		return content{
			document: llm.Document{PDF: data, Filename: filepath.Base(doc.FilePath)},
			preamble: fmt.Sprintf("I'm attaching the PDF file %s", doc.FilePath),
		}, nil
	default:
		return metadataContent(doc), nil
	}
}

func metadataContent(doc *domain.DocumentUnit) content {
	missing := doc.FilePath
	if missing == "" {
		missing = doc.BibtexKey
	}
	return content{
		metadataOnly: true,
		metadataText: doc.Metadata.FormatForPrompt(),
		missingPath:  missing,
	}
}

// compose builds the prompt text sent with the document.
func (c content) compose(prompt string) string {
	if c.metadataOnly {
		return fmt.Sprintf("I'm providing bibliographic metadata instead of the PDF file (file not available: %s):\n\n%s\n\nBased on this metadata, please answer: %s",
			c.missingPath, c.metadataText, prompt)
	}
	return c.preamble + "\n\n" + prompt
}
