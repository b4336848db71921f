package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for batch lifecycle events.
const (
	EventTypeBatchStarted      = "batch.started"
	EventTypeDocumentCompleted = "document.completed"
	EventTypeDocumentFiltered  = "document.filtered"
	EventTypeBatchCompleted    = "batch.completed"
)

// Event is a batch lifecycle event published to the event sink.
type Event struct {
	EventID      string          `json:"event_id"`
	EventVersion int             `json:"event_version"`
	EventType    string          `json:"event_type"`
	RunID        string          `json:"run_id"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewEvent creates an event with the payload JSON-serialized.
func NewEvent(eventType, runID string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:      uuid.New().String(),
		EventVersion: 1,
		EventType:    eventType,
		RunID:        runID,
		Payload:      payloadBytes,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// BatchStartedPayload is the payload for batch.started events.
type BatchStartedPayload struct {
	Documents int      `json:"documents"`
	Queries   int      `json:"queries"`
	Models    []string `json:"models"`
	Resumed   bool     `json:"resumed"`
}

// DocumentCompletedPayload is the payload for document.completed events.
type DocumentCompletedPayload struct {
	DocumentID     int    `json:"document_id"`
	Identifier     string `json:"identifier"`
	IsMetadataOnly bool   `json:"is_metadata_only"`
	Succeeded      int    `json:"succeeded"`
	Failed         int    `json:"failed"`
}

// DocumentFilteredPayload is the payload for document.filtered events.
type DocumentFilteredPayload struct {
	DocumentID int    `json:"document_id"`
	Identifier string `json:"identifier"`
	QueryID    int    `json:"query_id"`
	Reason     string `json:"reason"`
}

// BatchCompletedPayload is the payload for batch.completed events.
type BatchCompletedPayload struct {
	Documents       int     `json:"documents"`
	Filtered        int     `json:"filtered"`
	FailedPairs     int     `json:"failed_pairs"`
	DurationSeconds float64 `json:"duration_seconds"`
}
