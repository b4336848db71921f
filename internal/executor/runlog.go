package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/helixir/ask-llm/internal/llm"
)

// RunLog appends raw model responses to a text log, one block per
// (document, query) pair.
type RunLog struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

// OpenRunLog opens path for appending. An empty path returns a nil log,
// which discards everything.
func OpenRunLog(path string) (*RunLog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{w: f, f: f}, nil
}

// NewRunLog writes to w.
func NewRunLog(w io.Writer) *RunLog {
	return &RunLog{w: w}
}

// Record appends one response block.
func (l *RunLog) Record(identifier string, queryID, attempts int, raw []byte) {
	if l == nil {
		return
	}
	var pretty bytes.Buffer
	if len(raw) == 0 || json.Indent(&pretty, raw, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(raw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "=== Response for %s (Query %d) ===\n", identifier, queryID)
	fmt.Fprintf(l.w, "time: %s attempts: %d\n", time.Now().UTC().Format(time.RFC3339), attempts)
	l.w.Write(pretty.Bytes())
	io.WriteString(l.w, "\n\n")
}

// Close closes the underlying file, if any.
func (l *RunLog) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}

func rawPayload(resp *llm.Response) []byte {
	if len(resp.Raw) > 0 {
		return resp.Raw
	}
	return []byte(resp.Text)
}

func errorPayload(kind, message string) []byte {
	b, _ := json.Marshal(map[string]string{"error": kind, "message": message})
	return b
}
