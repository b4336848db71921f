// Package workflows defines the Temporal workflow that runs a query batch.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	litemporal "github.com/helixir/ask-llm/internal/temporal"
	"github.com/helixir/ask-llm/internal/temporal/activities"
)

const (
	startActivityTimeout    = time.Hour
	documentActivityTimeout = time.Hour
	finishActivityTimeout   = 10 * time.Minute
)

// documentsPerExecution bounds the history of one workflow execution. The
// workflow continues as new after this many documents.
var documentsPerExecution = 500

// Workflow phases reported by the progress query.
const (
	phaseResolving  = "resolving"
	phaseProcessing = "processing"
	phaseFinishing  = "finishing"
	phaseDone       = "done"
	phaseStopped    = "stopped"
)

func retryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        5 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        5 * time.Minute,
		MaximumAttempts:        5,
		NonRetryableErrorTypes: []string{activities.ErrTypeFatal, activities.ErrTypeRunMismatch},
	}
}

// BatchWorkflow resolves the inputs, processes each pending document in its
// own activity and writes the final report. Documents run one at a time in
// input order. The "stop" signal ends the workflow after the document in
// flight without finishing the run, so a later batch resumes it.
func BatchWorkflow(ctx workflow.Context, input litemporal.BatchWorkflowInput) (*litemporal.BatchWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	progress := &litemporal.BatchProgress{Phase: phaseResolving, Processed: input.Processed}
	if err := workflow.SetQueryHandler(ctx, litemporal.QueryProgress, func() (*litemporal.BatchProgress, error) {
		return progress, nil
	}); err != nil {
		return nil, fmt.Errorf("register query handler: %w", err)
	}

	stopCh := workflow.GetSignalChannel(ctx, litemporal.SignalStop)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		var sig litemporal.StopSignal
		stopCh.Receive(gCtx, &sig)
		logger.Info("received stop signal", "reason", sig.Reason)
		progress.Stopped = true
	})

	var acts *activities.BatchActivities

	startCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: startActivityTimeout,
		RetryPolicy:         retryPolicy(),
	})
	var start activities.ResolveDocumentsOutput
	if err := workflow.ExecuteActivity(startCtx, acts.ResolveDocuments, activities.ResolveDocumentsInput{Inputs: input.Inputs}).Get(ctx, &start); err != nil {
		return nil, fmt.Errorf("resolve documents: %w", err)
	}
	progress.RunID = start.RunID
	progress.Total = start.Total
	progress.Remaining = len(start.Pending)
	progress.Phase = phaseProcessing
	logger.Info("batch started", "runID", start.RunID, "pending", len(start.Pending), "resumed", start.Resumed)

	docCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: documentActivityTimeout,
		RetryPolicy:         retryPolicy(),
	})
	thisExecution := 0
	for _, id := range start.Pending {
		if progress.Stopped {
			break
		}
		if thisExecution >= documentsPerExecution {
			logger.Info("continuing as new", "runID", start.RunID, "remaining", progress.Remaining)
			next := input
			next.Processed = progress.Processed
			return nil, workflow.NewContinueAsNewError(ctx, BatchWorkflow, next)
		}

		var out activities.ProcessDocumentOutput
		err := workflow.ExecuteActivity(docCtx, acts.ProcessDocument, activities.ProcessDocumentInput{
			RunID:      start.RunID,
			DocumentID: id,
		}).Get(ctx, &out)
		if err != nil {
			return nil, fmt.Errorf("process document %d: %w", id, err)
		}
		thisExecution++
		progress.Processed++
		progress.Remaining--
		runProgress := out.Progress
		progress.Run = &runProgress
	}

	result := &litemporal.BatchWorkflowResult{
		RunID:     start.RunID,
		Processed: progress.Processed,
		Remaining: progress.Remaining,
	}
	if progress.Stopped && progress.Remaining > 0 {
		progress.Phase = phaseStopped
		result.Status = litemporal.BatchStatusStopped
		logger.Info("batch stopped", "runID", start.RunID, "remaining", progress.Remaining)
		return result, nil
	}

	progress.Phase = phaseFinishing
	finishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: finishActivityTimeout,
		RetryPolicy:         retryPolicy(),
	})
	if err := workflow.ExecuteActivity(finishCtx, acts.FinalizeReport, activities.FinalizeReportInput{RunID: start.RunID}).Get(ctx, &result.Summary); err != nil {
		return nil, fmt.Errorf("finalize report: %w", err)
	}
	progress.Phase = phaseDone
	result.Status = litemporal.BatchStatusCompleted
	return result, nil
}
