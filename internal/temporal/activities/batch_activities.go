// Package activities holds the Temporal activities of a query batch. Every
// activity reopens the run from its checkpoint, so any worker with access to
// the output directory can serve any step.
package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/pipeline"
)

// Application error types that the workflow must not retry.
const (
	ErrTypeFatal       = "fatal"
	ErrTypeRunMismatch = "run_mismatch"
)

// ResolverFactory returns the resolution step for a batch's inputs.
type ResolverFactory func(inputs []string) pipeline.ResolveFunc

// BatchActivities drives a pipeline.Runner one step at a time. The runner
// must be in resume mode so that ResolveDocuments continues an existing run.
type BatchActivities struct {
	runner  *pipeline.Runner
	resolve ResolverFactory
}

// NewBatchActivities creates the activities over runner.
func NewBatchActivities(runner *pipeline.Runner, resolve ResolverFactory) *BatchActivities {
	return &BatchActivities{runner: runner, resolve: resolve}
}

// ResolveDocumentsInput is the input of ResolveDocuments.
type ResolveDocumentsInput struct {
	Inputs []string `json:"inputs"`
}

// ResolveDocumentsOutput identifies the run and what is left to do.
type ResolveDocumentsOutput struct {
	RunID   string `json:"run_id"`
	Total   int    `json:"total"`
	Pending []int  `json:"pending"`
	Resumed bool   `json:"resumed"`
}

// ResolveDocuments resolves the inputs into documents and checkpoints a new run,
// or reopens the run already in the checkpoint.
func (a *BatchActivities) ResolveDocuments(ctx context.Context, input ResolveDocumentsInput) (*ResolveDocumentsOutput, error) {
	logger := activity.GetLogger(ctx)

	run, err := a.runner.Start(ctx, a.resolve(input.Inputs))
	if err != nil {
		logger.Error("resolve documents failed", "error", err)
		return nil, activityError(err)
	}
	pending := run.AnnounceStart(ctx)
	logger.Info("batch started",
		"runID", run.ID(),
		"documents", len(run.Documents()),
		"pending", len(pending),
		"resumed", run.Resumed(),
	)
	return &ResolveDocumentsOutput{
		RunID:   run.ID(),
		Total:   len(run.Documents()),
		Pending: pending,
		Resumed: run.Resumed(),
	}, nil
}

// ProcessDocumentInput names one document of a run.
type ProcessDocumentInput struct {
	RunID      string `json:"run_id"`
	DocumentID int    `json:"document_id"`
}

// ProcessDocumentOutput carries the run's progress after the document.
type ProcessDocumentOutput struct {
	Progress pipeline.Progress `json:"progress"`
}

// ProcessDocument runs retrieval and every query for one document and
// commits it to the checkpoint. Retrying after a commit makes no model call.
func (a *BatchActivities) ProcessDocument(ctx context.Context, input ProcessDocumentInput) (*ProcessDocumentOutput, error) {
	run, err := a.reopen(ctx, input.RunID)
	if err != nil {
		return nil, err
	}
	if err := run.Process(ctx, input.DocumentID); err != nil {
		activity.GetLogger(ctx).Warn("document not committed",
			"runID", input.RunID,
			"documentID", input.DocumentID,
			"error", err,
		)
		return nil, activityError(err)
	}
	return &ProcessDocumentOutput{Progress: run.Progress()}, nil
}

// FinalizeReportInput names the run to finish.
type FinalizeReportInput struct {
	RunID string `json:"run_id"`
}

// FinalizeReport writes the final outputs and emits batch.completed.
func (a *BatchActivities) FinalizeReport(ctx context.Context, input FinalizeReportInput) (*pipeline.Summary, error) {
	run, err := a.reopen(ctx, input.RunID)
	if err != nil {
		return nil, err
	}
	sum, err := run.Finish(ctx)
	if err != nil {
		return nil, activityError(err)
	}
	return sum, nil
}

func (a *BatchActivities) reopen(ctx context.Context, runID string) (*pipeline.Run, error) {
	run, err := a.runner.Resume(ctx)
	if err != nil {
		return nil, activityError(err)
	}
	if run.ID() != runID {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("checkpoint holds run %s, want %s", run.ID(), runID),
			ErrTypeRunMismatch, nil)
	}
	return run, nil
}

// activityError marks batch-fatal errors as non-retryable. A missing
// checkpoint is fatal here since every activity after ResolveDocuments needs it.
func activityError(err error) error {
	if domain.IsFatal(err) || errors.Is(err, domain.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeFatal, err)
	}
	return err
}
