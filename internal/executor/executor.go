// Package executor runs the query definitions of a query file against one
// document at a time.
//
// Every (document, query) pair moves through pending, in_flight and then
// succeeded or failed. Transient provider errors are retried with exponential
// backoff up to a bounded attempt count. Schema violations and permanent
// provider errors are terminal for the pair but never for the batch.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/helixir/ask-llm/internal/cache"
	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/llm"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/schema"
)

const (
	// DefaultMaxAttempts is the total number of attempts per pair.
	DefaultMaxAttempts = 5
	// DefaultBackoffInitial is the first retry delay.
	DefaultBackoffInitial = 2 * time.Second
	// DefaultBackoffMax caps the retry delay.
	DefaultBackoffMax = time.Minute
)

// Config configures an Executor.
type Config struct {
	Invoker        llm.Invoker
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// RunLog receives the raw response of every pair. Nil discards.
	RunLog  *RunLog
	Metrics *observability.Metrics
}

// Outcome is the result of processing one document.
type Outcome struct {
	// Results holds one result per executed pair, in query order.
	Results []*domain.QueryResult
	// Invoked counts the pairs that needed a model call.
	Invoked         int
	Filtered        bool
	FilteredAtQuery int
	FilterReason    string
}

// Executor evaluates prompt queries for documents.
type Executor struct {
	invoker     llm.Invoker
	queries     []domain.QueryDefinition
	validators  map[int]*schema.Validator
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	runLog      *RunLog
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// New creates an Executor for the given queries. Every declared schema is
// compiled up front; a schema that does not compile is a ParseError.
func New(cfg Config, queries []domain.QueryDefinition, logger zerolog.Logger) (*Executor, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("executor: invoker is required")
	}
	e := &Executor{
		invoker:     cfg.Invoker,
		queries:     queries,
		validators:  make(map[int]*schema.Validator),
		maxAttempts: cfg.MaxAttempts,
		initial:     cfg.BackoffInitial,
		max:         cfg.BackoffMax,
		runLog:      cfg.RunLog,
		metrics:     cfg.Metrics,
		logger:      logger.With().Str("component", "executor").Logger(),
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = DefaultMaxAttempts
	}
	if e.initial <= 0 {
		e.initial = DefaultBackoffInitial
	}
	if e.max <= 0 {
		e.max = DefaultBackoffMax
	}

	for _, q := range queries {
		if !q.HasSchema() {
			continue
		}
		v, err := schema.Compile(q.Schema)
		if err != nil {
			return nil, &domain.ParseError{Section: q.ID, Reason: "invalid structure schema", Err: err}
		}
		e.validators[q.ID] = v
	}
	return e, nil
}

// Queries returns the query definitions in parse order.
func (e *Executor) Queries() []domain.QueryDefinition {
	return e.queries
}

// ProcessDocument runs every prompt query for doc in definition order.
// Pairs present in existing are reused without a model call. A filter query
// that rejects the document stops the remaining queries.
//
// The only error returned is the context's, when processing was cancelled;
// the document is then incomplete and its partial results are discarded.
func (e *Executor) ProcessDocument(ctx context.Context, doc *domain.DocumentUnit, existing map[domain.PairKey]*domain.QueryResult) (*Outcome, error) {
	logger := observability.WithDocumentContext(e.logger, doc.ID, doc.BibtexKey)
	ctx = observability.WithDocumentID(ctx, doc.ID)

	out := &Outcome{}
	var (
		c      content
		loaded bool
	)
	for i := range e.queries {
		q := &e.queries[i]
		if q.IsDiscovery() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := domain.PairKey{DocumentID: doc.ID, QueryID: q.ID}
		result, ok := existing[key]
		if !ok || !result.State.IsTerminal() {
			if !loaded {
				c = e.load(doc, logger)
				loaded = true
			}
			var err error
			result, err = e.runPair(ctx, doc, q, c, logger)
			if err != nil {
				return nil, err
			}
			out.Invoked++
		}
		out.Results = append(out.Results, result)

		if q.FilterField == "" {
			continue
		}
		if reason := evaluateFilter(q.FilterField, result); reason != "" {
			out.Filtered = true
			out.FilteredAtQuery = q.ID
			out.FilterReason = reason
			e.metrics.RecordDocumentFiltered()
			logger.Info().
				Int("query_id", q.ID).
				Str("reason", reason).
				Msg("document filtered out")
			break
		}
	}
	return out, nil
}

func (e *Executor) load(doc *domain.DocumentUnit, logger zerolog.Logger) content {
	c, err := loadContent(doc)
	if err != nil {
		logger.Warn().Err(err).Str("path", doc.FilePath).Msg("cannot read PDF, using metadata")
		doc.MarkMetadataOnly(fmt.Sprintf("PDF unreadable: %v", err))
	}
	return c
}

// runPair drives one pair to a terminal state.
func (e *Executor) runPair(ctx context.Context, doc *domain.DocumentUnit, q *domain.QueryDefinition, c content, logger zerolog.Logger) (*domain.QueryResult, error) {
	logger = observability.WithQueryContext(logger, q.ID, q.Model)
	ctx = observability.WithQueryID(ctx, q.ID)

	result := &domain.QueryResult{
		DocumentID: doc.ID,
		QueryID:    q.ID,
		State:      domain.PairStatePending,
	}
	inv := llm.Invocation{
		Model:        q.Model,
		Prompt:       c.compose(q.Prompt),
		Temperature:  q.Temperature,
		UseWebSearch: q.UseWebSearch,
		Schema:       q.Schema,
		Document:     c.document,
	}

	result.State = domain.PairStateInFlight
	resp, err := e.invoke(ctx, inv, result, logger)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		kind := string(llm.KindOf(err))
		if kind == "" {
			kind = domain.ErrorKindInternal
		}
		logger.Error().Err(err).Int("attempts", result.Attempts).Msg("query failed")
		e.runLog.Record(doc.Identifier(), q.ID, result.Attempts, errorPayload(kind, err.Error()))
		return fail(result, kind, err.Error()), nil
	}

	e.runLog.Record(doc.Identifier(), q.ID, result.Attempts, rawPayload(resp))

	if v, ok := e.validators[q.ID]; ok {
		value, violations := v.Decode(resp.Text)
		if len(violations) > 0 {
			e.metrics.RecordSchemaViolation()
			verr := &domain.SchemaValidationError{QueryID: q.ID, Violations: violations}
			logger.Warn().Strs("violations", violations).Msg("response violates schema")
			return fail(result, domain.ErrorKindSchemaValidation, verr.Error()), nil
		}
		result.Response = value
	} else {
		result.Response = resp.Text
	}
	if q.UseWebSearch || c.document.URL != "" {
		result.Grounding = resp.Grounding
	}
	result.State = domain.PairStateSucceeded
	result.CompletedAt = time.Now().UTC()
	logger.Debug().Int("attempts", result.Attempts).Msg("query succeeded")
	return result, nil
}

// invoke calls the model, retrying transient failures with backoff.
func (e *Executor) invoke(ctx context.Context, inv llm.Invocation, result *domain.QueryResult, logger zerolog.Logger) (*llm.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.initial
	policy.MaxInterval = e.max
	policy.MaxElapsedTime = 0

	op := func() (*llm.Response, error) {
		result.Attempts++
		callCtx := ctx
		if result.Attempts > 1 {
			// A retry must reach the provider, not the response it just rejected.
			callCtx = cache.WithRefresh(ctx)
		}
		start := time.Now()
		resp, err := e.invoker.Invoke(callCtx, inv)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			e.metrics.RecordModelInvocation(inv.Model, "success", elapsed)
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		kind := llm.KindOf(err)
		if kind == "" {
			kind = domain.ErrorKindInternal
		}
		e.metrics.RecordModelInvocation(inv.Model, string(kind), elapsed)
		if !llm.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.RecordModelRetry(inv.Model)
		logger.Warn().
			Err(err).
			Int("attempt", result.Attempts).
			Dur("retry_in", wait).
			Msg("transient model error, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.maxAttempts-1)), ctx)
	return backoff.RetryNotifyWithData(op, b, notify)
}

func fail(result *domain.QueryResult, kind, message string) *domain.QueryResult {
	result.State = domain.PairStateFailed
	result.Response = nil
	result.Error = &domain.ResultError{Kind: kind, Message: message, Attempts: result.Attempts}
	result.CompletedAt = time.Now().UTC()
	return result
}
