package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/helixir/ask-llm/internal/domain"
)

// WriteExclusions writes the exclusion list, one tab-separated line per
// filtered-out document.
func WriteExclusions(w io.Writer, exclusions []Exclusion) error {
	var buf bytes.Buffer
	buf.WriteString("# Documents filtered out by query filters\n")
	fmt.Fprintf(&buf, "# Total filtered out: %d\n", len(exclusions))
	for _, e := range exclusions {
		fmt.Fprintf(&buf, "%d\t%s\t%s\n", e.DocumentID, e.Identifier, e.Reason)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ProcessedLine formats the processed-log entry of a document.
func ProcessedLine(doc *domain.DocumentUnit) string {
	switch {
	case doc.Source == domain.SourceRemoteURL:
		return doc.URL + "|"
	case doc.IsMetadataOnly:
		return fmt.Sprintf("METADATA:%s|%s", doc.BibtexKey, doc.BibtexKey)
	default:
		return fmt.Sprintf("%s|%s", doc.FilePath, doc.BibtexKey)
	}
}

// ProcessedLog appends the identity of every document that reached a
// terminal state.
type ProcessedLog struct {
	mu sync.Mutex
	f  *os.File
}

// OpenProcessedLog opens path for appending. An empty path returns a nil
// log, which discards everything.
func OpenProcessedLog(path string) (*ProcessedLog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open processed log: %w", err)
	}
	return &ProcessedLog{f: f}, nil
}

// Record appends one document.
func (l *ProcessedLog) Record(doc *domain.DocumentUnit) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.WriteString(ProcessedLine(doc) + "\n"); err != nil {
		return fmt.Errorf("write processed log: %w", err)
	}
	return nil
}

// Close closes the log file.
func (l *ProcessedLog) Close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}
