package temporal

import "github.com/helixir/ask-llm/internal/pipeline"

// Signal and query names of the batch workflow. They live here so that the
// client can use them without importing the workflows package.
const (
	// SignalStop asks the workflow to stop after the document in flight.
	// Outputs stay consistent and a later batch resumes from the checkpoint.
	SignalStop = "stop"

	// QueryProgress returns the workflow's BatchProgress.
	QueryProgress = "progress"
)

// StopSignal is the payload of SignalStop.
type StopSignal struct {
	Reason string `json:"reason"`
}

// BatchWorkflowInput starts a batch over the given input paths and keys.
type BatchWorkflowInput struct {
	Inputs []string `json:"inputs"`
	// Processed carries the document count across continue-as-new.
	Processed int `json:"processed,omitempty"`
}

// BatchProgress is the answer to QueryProgress.
type BatchProgress struct {
	Phase     string             `json:"phase"`
	RunID     string             `json:"run_id"`
	Total     int                `json:"total"`
	Remaining int                `json:"remaining"`
	Processed int                `json:"processed"`
	Stopped   bool               `json:"stopped"`
	Run       *pipeline.Progress `json:"run,omitempty"`
}

// Batch status values reported by BatchWorkflowResult.
const (
	BatchStatusCompleted = "completed"
	BatchStatusStopped   = "stopped"
)

// BatchWorkflowResult is returned by a finished batch workflow.
type BatchWorkflowResult struct {
	RunID     string            `json:"run_id"`
	Status    string            `json:"status"`
	Processed int               `json:"processed"`
	Remaining int               `json:"remaining"`
	Summary   *pipeline.Summary `json:"summary,omitempty"`
}
