package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helixir/ask-llm/internal/pipeline"
)

const (
	// defaultStreamInterval is how often the stream samples progress.
	defaultStreamInterval = 2 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 24 * time.Hour
)

// sseEvent represents an event sent via SSE.
type sseEvent struct {
	EventType string             `json:"event_type"`
	Progress  *pipeline.Progress `json:"progress,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// streamProgress handles GET /progress/stream. It sends the progress on
// every change and closes after the run is done.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	src := s.current()
	if src == nil {
		writeError(w, http.StatusServiceUnavailable, "run not started")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	last := src.Progress()
	if last.Done {
		sendSSEEvent(w, flusher, sseEvent{EventType: "completed", Progress: &last, Timestamp: time.Now()})
		return
	}
	sendSSEEvent(w, flusher, sseEvent{EventType: "stream_started", Progress: &last, Timestamp: time.Now()})

	deadline := time.NewTimer(sseMaxDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-deadline.C:
			sendSSEEvent(w, flusher, sseEvent{EventType: "timeout", Message: "stream max duration exceeded", Timestamp: time.Now()})
			return

		case <-ticker.C:
			current := src.Progress()
			if current.Done {
				sendSSEEvent(w, flusher, sseEvent{EventType: "completed", Progress: &current, Timestamp: time.Now()})
				return
			}
			if current == last {
				continue
			}
			last = current
			sendSSEEvent(w, flusher, sseEvent{EventType: "progress_update", Progress: &current, Timestamp: time.Now()})
		}
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}
