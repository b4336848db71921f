// Package temporal runs query batches as Temporal workflows.
//
// A batch workflow resolves its inputs once, then processes each pending
// document in its own activity and finally writes the report. All run state
// lives in the checkpoint file, so a worker restart or a continue-as-new
// picks up exactly where the last committed document left off.
//
// Start a batch and follow it:
//
//	c, err := temporal.NewClient(temporal.ClientConfig{HostPort: "localhost:7233", Namespace: "default"})
//	if err != nil {
//	    return err
//	}
//	bc := temporal.NewBatchClient(c, cfg)
//	id, _, err := bc.StartBatch(ctx, "thesis", workflows.BatchWorkflow, temporal.BatchWorkflowInput{Inputs: paths})
//	progress, err := bc.Progress(ctx, id)
//
// The workflow answers the "progress" query and honours the "stop" signal,
// which ends it after the document in flight.
package temporal
