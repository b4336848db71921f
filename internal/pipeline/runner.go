// Package pipeline runs a batch: it resolves the document units, retrieves
// missing PDFs, executes the query definitions against every unit and keeps
// the report and the checkpoint current after each completed unit.
//
// Units may be processed concurrently. Merging results, saving the
// checkpoint and flushing the report files happen under one lock, so a
// checkpoint write is never interleaved with another unit's commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/ask-llm/internal/checkpoint"
	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/events"
	"github.com/helixir/ask-llm/internal/executor"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/report"
)

// Processor evaluates the queries for one document. *executor.Executor
// implements it.
type Processor interface {
	ProcessDocument(ctx context.Context, doc *domain.DocumentUnit, existing map[domain.PairKey]*domain.QueryResult) (*executor.Outcome, error)
}

// Retriever attaches a PDF to a unit or degrades it to metadata-only.
// *retrieval.Strategy implements it.
type Retriever interface {
	Retrieve(ctx context.Context, doc *domain.DocumentUnit) error
}

// ResolveFunc produces the ordered document units of a new run.
type ResolveFunc func(ctx context.Context) ([]*domain.DocumentUnit, error)

// Config wires a Runner.
type Config struct {
	Queries   []domain.QueryDefinition
	Processor Processor
	// Retriever may be nil; units without content then become metadata-only.
	Retriever  Retriever
	Checkpoint *checkpoint.Store
	Outputs    report.Outputs
	// Processed may be nil.
	Processed *report.ProcessedLog
	// Publisher may be nil.
	Publisher events.Publisher
	Metrics   *observability.Metrics
	// Concurrency is the number of units processed at once. Values below 1
	// mean 1.
	Concurrency int
	// Resume continues from the checkpoint when one exists and keeps
	// existing results. Otherwise the run starts from scratch and results
	// overwrite.
	Resume bool
}

// Runner starts and resumes runs.
type Runner struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a runner.
func New(cfg Config, logger zerolog.Logger) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Runner{cfg: cfg, logger: logger.With().Str("component", "pipeline").Logger()}
}

// Start begins a run. In resume mode an existing checkpoint supplies the
// documents and prior results and resolve is not called. Otherwise resolve
// is called and a new run is checkpointed before any model call.
func (r *Runner) Start(ctx context.Context, resolve ResolveFunc) (*Run, error) {
	if r.cfg.Resume {
		run, err := r.Resume(ctx)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		r.logger.Info().Msg("no checkpoint found, starting a new run")
	}

	docs, err := resolve(ctx)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	agg := report.New(r.cfg.Queries, runID, !r.cfg.Resume)
	for _, d := range docs {
		agg.AddDocument(d)
	}
	run := r.newRun(runID, agg, false)
	if err := run.save(); err != nil {
		return nil, err
	}
	if err := run.flush(); err != nil {
		return nil, err
	}
	return run, nil
}

// Resume reopens the run stored in the checkpoint. It returns
// domain.ErrNotFound when there is no checkpoint and ErrCheckpointMismatch
// when the checkpoint was written for different queries.
func (r *Runner) Resume(ctx context.Context) (*Run, error) {
	if r.cfg.Checkpoint == nil {
		return nil, domain.ErrNotFound
	}
	cp, err := r.cfg.Checkpoint.Load()
	if err != nil {
		return nil, err
	}
	if err := checkpoint.Verify(cp, r.cfg.Queries); err != nil {
		return nil, &domain.CheckpointIOError{Path: r.cfg.Checkpoint.Path(), Op: "verify", Err: err}
	}
	agg := report.Restore(r.cfg.Queries, cp.Report)
	r.logger.Info().Str("run_id", cp.RunID).Int("recorded", agg.Len()).Msg("resuming from checkpoint")
	return r.newRun(cp.RunID, agg, true), nil
}

func (r *Runner) newRun(runID string, agg *report.Aggregator, resumed bool) *Run {
	docs := agg.State().Documents
	run := &Run{
		cfg:     r.cfg,
		id:      runID,
		agg:     agg,
		docs:    docs,
		index:   make(map[int]int, len(docs)),
		status:  make(map[int]unitStatus, len(docs)),
		resumed: resumed,
		started: time.Now(),
		emitter: events.NewEmitter(r.cfg.Publisher, runID, r.logger),
		logger:  observability.WithRunContext(r.logger, runID),
	}
	for i, d := range docs {
		run.index[d.ID] = i
		switch {
		case agg.IsFiltered(d.ID):
			run.status[d.ID] = statusFiltered
		case agg.Complete(d.ID):
			run.status[d.ID] = run.completedStatus(d.ID)
		default:
			run.status[d.ID] = statusPending
		}
	}
	return run
}

type unitStatus string

// completedStatus classifies a restored unit that needs no more work.
func (run *Run) completedStatus(docID int) unitStatus {
	for _, res := range run.agg.ResultsFor(docID) {
		if res.Failed() {
			return statusFailed
		}
	}
	return statusCompleted
}

const (
	statusPending    unitStatus = "pending"
	statusInProgress unitStatus = "in_progress"
	statusCompleted  unitStatus = "completed"
	statusFailed     unitStatus = "failed"
	statusFiltered   unitStatus = "filtered"
)

// Progress counts the units of a run by state. A unit is failed when it
// completed with at least one failed pair.
type Progress struct {
	RunID      string `json:"run_id"`
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Filtered   int    `json:"filtered"`
	Resumed    bool   `json:"resumed"`
	// Done is set once the run is finished.
	Done bool `json:"done"`
}

// Summary describes a finished run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Documents   int           `json:"documents"`
	Kept        int           `json:"kept"`
	Filtered    int           `json:"filtered"`
	FailedPairs int           `json:"failed_pairs"`
	Invoked     int           `json:"invoked"`
	Duration    time.Duration `json:"duration"`
}

// Run is one batch in progress.
type Run struct {
	cfg     Config
	id      string
	agg     *report.Aggregator
	resumed bool
	started time.Time
	emitter *events.Emitter
	logger  zerolog.Logger

	// commitMu serializes merge, checkpoint and flush.
	commitMu sync.Mutex

	mu       sync.Mutex
	docs     []*domain.DocumentUnit
	index    map[int]int
	status   map[int]unitStatus
	invoked  int
	finished bool
}

// ID returns the run identifier.
func (run *Run) ID() string { return run.id }

// Resumed reports whether the run was restored from a checkpoint.
func (run *Run) Resumed() bool { return run.resumed }

// Documents returns a snapshot of the units of the run in order.
func (run *Run) Documents() []*domain.DocumentUnit {
	run.mu.Lock()
	defer run.mu.Unlock()
	out := make([]*domain.DocumentUnit, len(run.docs))
	for i, d := range run.docs {
		cp := *d
		out[i] = &cp
	}
	return out
}

// Pending returns the IDs of the units that still need work, in order.
func (run *Run) Pending() []int {
	return checkpoint.IDs(checkpoint.PendingQueue(run.Documents(), run.agg))
}

// Invoked returns the number of pairs that needed a model call so far.
func (run *Run) Invoked() int {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.invoked
}

// Progress returns the current unit counts.
func (run *Run) Progress() Progress {
	run.mu.Lock()
	defer run.mu.Unlock()
	p := Progress{RunID: run.id, Total: len(run.docs), Resumed: run.resumed, Done: run.finished}
	for _, s := range run.status {
		switch s {
		case statusPending:
			p.Pending++
		case statusInProgress:
			p.InProgress++
		case statusCompleted:
			p.Completed++
		case statusFailed:
			p.Failed++
		case statusFiltered:
			p.Filtered++
		}
	}
	return p
}

// Report returns a snapshot of the structured report.
func (run *Run) Report() *report.Report {
	return run.agg.Report()
}

// AnnounceStart emits batch.started for the pending units and returns
// their IDs.
func (run *Run) AnnounceStart(ctx context.Context) []int {
	pending := run.Pending()
	run.emitter.BatchStarted(ctx, domain.BatchStartedPayload{
		Documents: len(pending),
		Queries:   len(run.cfg.Queries),
		Models:    run.Report().Metadata.Models,
		Resumed:   run.resumed,
	})
	return pending
}

// Execute processes every pending unit with bounded concurrency. The first
// fatal error cancels the remaining work; per-pair failures never do.
func (run *Run) Execute(ctx context.Context) error {
	pending := run.AnnounceStart(ctx)
	run.logger.Info().Int("pending", len(pending)).Int("concurrency", run.cfg.Concurrency).Msg("processing documents")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(run.cfg.Concurrency)
	for _, id := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return run.Process(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Process runs retrieval and every query for one unit and commits the
// outcome. A unit that is already complete is skipped without any model
// call.
func (run *Run) Process(ctx context.Context, docID int) error {
	doc, ok := run.claim(docID)
	if !ok {
		return nil
	}
	log := observability.WithDocumentContext(run.logger, doc.ID, doc.BibtexKey)
	ctx = observability.WithRunID(ctx, run.id)
	ctx = observability.WithDocumentID(ctx, doc.ID)

	if doc.NeedsRetrieval() {
		if run.cfg.Retriever != nil {
			if err := run.cfg.Retriever.Retrieve(ctx, doc); err != nil {
				run.release(docID)
				return err
			}
		}
		if doc.NeedsRetrieval() {
			doc.MarkMetadataOnly("PDF search disabled")
		}
	}

	outcome, err := run.cfg.Processor.ProcessDocument(ctx, doc, run.agg.ResultsFor(doc.ID))
	if err != nil {
		run.release(docID)
		if ctx.Err() != nil {
			log.Warn().Msg("document interrupted, it stays pending")
		}
		return err
	}
	return run.commit(ctx, doc, outcome, log)
}

// claim returns a private copy of a pending unit and marks it in progress.
func (run *Run) claim(docID int) (*domain.DocumentUnit, bool) {
	run.mu.Lock()
	defer run.mu.Unlock()
	i, ok := run.index[docID]
	if !ok || run.status[docID] != statusPending || run.agg.Complete(docID) {
		return nil, false
	}
	run.status[docID] = statusInProgress
	cp := *run.docs[i]
	return &cp, true
}

func (run *Run) release(docID int) {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.status[docID] == statusInProgress {
		run.status[docID] = statusPending
	}
}

func (run *Run) commit(ctx context.Context, doc *domain.DocumentUnit, outcome *executor.Outcome, log zerolog.Logger) error {
	run.commitMu.Lock()
	defer run.commitMu.Unlock()

	run.agg.AddDocument(doc)
	succeeded, failed := 0, 0
	for _, res := range outcome.Results {
		run.agg.Merge(res)
		if res.Failed() {
			failed++
		} else {
			succeeded++
		}
	}
	if outcome.Filtered {
		run.agg.MarkFiltered(doc.ID, outcome.FilteredAtQuery, outcome.FilterReason)
	}

	status := statusCompleted
	switch {
	case outcome.Filtered:
		status = statusFiltered
	case failed > 0:
		status = statusFailed
	}
	run.mu.Lock()
	run.docs[run.index[doc.ID]] = doc
	run.status[doc.ID] = status
	run.invoked += outcome.Invoked
	run.mu.Unlock()

	if err := run.save(); err != nil {
		return err
	}
	if err := run.flush(); err != nil {
		return err
	}
	if err := run.cfg.Processed.Record(doc); err != nil {
		log.Warn().Err(err).Msg("processed log not updated")
	}

	run.cfg.Metrics.RecordDocumentProcessed(string(status))
	if outcome.Filtered {
		run.emitter.DocumentFiltered(ctx, domain.DocumentFilteredPayload{
			DocumentID: doc.ID,
			Identifier: doc.Identifier(),
			QueryID:    outcome.FilteredAtQuery,
			Reason:     outcome.FilterReason,
		})
		log.Info().Int("query_id", outcome.FilteredAtQuery).Str("reason", outcome.FilterReason).Msg("document filtered out")
	}
	run.emitter.DocumentCompleted(ctx, domain.DocumentCompletedPayload{
		DocumentID:     doc.ID,
		Identifier:     doc.Identifier(),
		IsMetadataOnly: doc.IsMetadataOnly,
		Succeeded:      succeeded,
		Failed:         failed,
	})
	log.Info().
		Bool("metadata_only", doc.IsMetadataOnly).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("invoked", outcome.Invoked).
		Msg("document completed")
	return nil
}

// save persists the checkpoint. Callers hold commitMu or own the run
// exclusively.
func (run *Run) save() error {
	if run.cfg.Checkpoint == nil {
		return nil
	}
	return run.cfg.Checkpoint.Save(&checkpoint.Checkpoint{
		RunID:       run.id,
		Fingerprint: checkpoint.Fingerprint(run.cfg.Queries),
		Pending:     run.Pending(),
		Report:      run.agg.State(),
	})
}

func (run *Run) flush() error {
	if err := run.agg.Flush(run.cfg.Outputs); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

// Finish writes the final report and checkpoint and emits batch.completed.
// The checkpoint is kept so that resuming a finished run is a no-op.
func (run *Run) Finish(ctx context.Context) (*Summary, error) {
	run.commitMu.Lock()
	defer run.commitMu.Unlock()

	if err := run.save(); err != nil {
		return nil, err
	}
	if err := run.flush(); err != nil {
		return nil, err
	}

	st := run.agg.State()
	failedPairs := 0
	for _, res := range st.Results {
		if res.Failed() {
			failedPairs++
		}
	}
	rep := run.agg.Report()
	sum := &Summary{
		RunID:       run.id,
		Documents:   len(st.Documents),
		Kept:        len(rep.Documents),
		Filtered:    len(st.Exclusions),
		FailedPairs: failedPairs,
		Invoked:     run.Invoked(),
		Duration:    time.Since(run.started),
	}
	run.mu.Lock()
	run.finished = true
	run.mu.Unlock()

	run.cfg.Metrics.RecordBatchCompleted(sum.Duration.Seconds())
	run.emitter.BatchCompleted(ctx, domain.BatchCompletedPayload{
		Documents:       sum.Documents,
		Filtered:        sum.Filtered,
		FailedPairs:     sum.FailedPairs,
		DurationSeconds: sum.Duration.Seconds(),
	})
	run.logger.Info().
		Int("documents", sum.Documents).
		Int("kept", sum.Kept).
		Int("filtered", sum.Filtered).
		Int("failed_pairs", sum.FailedPairs).
		Int("invoked", sum.Invoked).
		Dur("duration", sum.Duration).
		Msg("batch completed")
	return sum, nil
}

// Batch starts or resumes a run, processes every pending unit and finishes
// it.
func (r *Runner) Batch(ctx context.Context, resolve ResolveFunc) (*Run, *Summary, error) {
	run, err := r.Start(ctx, resolve)
	if err != nil {
		return nil, nil, err
	}
	if err := run.Execute(ctx); err != nil {
		return run, nil, err
	}
	sum, err := run.Finish(ctx)
	return run, sum, err
}
