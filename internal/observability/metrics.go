package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the askllm pipeline.
// Metrics are organized by subsystem: model invocations, response cache,
// documents, retrieval, discovery and checkpoints. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// ModelInvocations counts model calls by model and outcome (succeeded, failed, retried).
	ModelInvocations *prometheus.CounterVec

	// ModelInvocationDuration observes model call latency in seconds, labeled by model.
	ModelInvocationDuration *prometheus.HistogramVec

	// ModelRetries counts retry attempts after transient failures, labeled by model.
	ModelRetries *prometheus.CounterVec

	// SchemaViolations counts responses rejected by the structural validator.
	SchemaViolations prometheus.Counter

	// CacheRequests counts response cache lookups by result (hit, miss, store, error).
	CacheRequests *prometheus.CounterVec

	// DocumentsProcessed counts document units that reached a terminal state, labeled by status.
	DocumentsProcessed *prometheus.CounterVec

	// DocumentsFiltered counts document units excluded by a filter query.
	DocumentsFiltered prometheus.Counter

	// RetrievalAttempts counts PDF retrieval attempts by source and outcome.
	RetrievalAttempts *prometheus.CounterVec

	// DiscoveryPapers counts papers returned by discovery queries, labeled by source.
	DiscoveryPapers *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests to external APIs, labeled by source and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRateLimited counts rate-limited responses from external APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// CheckpointWrites counts checkpoint flushes by outcome.
	CheckpointWrites *prometheus.CounterVec

	// BatchDuration observes the end-to-end duration of batch runs in seconds.
	BatchDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance registered with reg.
// The namespace is used as a prefix for all metric names. A nil reg creates
// unregistered collectors, which is convenient in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ModelInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_invocations_total",
			Help:      "Total number of model invocations by outcome",
		}, []string{"model", "outcome"}),
		ModelInvocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_invocation_duration_seconds",
			Help:      "Duration of model invocations in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"model"}),
		ModelRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_retries_total",
			Help:      "Total number of model invocation retries after transient failures",
		}, []string{"model"}),
		SchemaViolations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_violations_total",
			Help:      "Total number of responses that failed schema validation",
		}),
		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Total number of response cache operations by result",
		}, []string{"result"}),
		DocumentsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Total number of document units that reached a terminal state",
		}, []string{"status"}),
		DocumentsFiltered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filtered_documents_total",
			Help:      "Total number of document units excluded by a filter query",
		}),
		RetrievalAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_attempts_total",
			Help:      "Total number of PDF retrieval attempts by source and outcome",
		}, []string{"source", "outcome"}),
		DiscoveryPapers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_papers_total",
			Help:      "Total number of papers returned by discovery queries",
		}, []string{"source"}),
		SourceRequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to external APIs",
		}, []string{"source", "error_type"}),
		SourceRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate-limited responses from external APIs",
		}, []string{"source"}),
		CheckpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoint writes by outcome",
		}, []string{"outcome"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch runs in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		}),
	}
}

// RecordModelInvocation records a finished model call.
func (m *Metrics) RecordModelInvocation(model, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ModelInvocations.WithLabelValues(model, outcome).Inc()
	m.ModelInvocationDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordModelRetry records a retry after a transient failure.
func (m *Metrics) RecordModelRetry(model string) {
	if m == nil {
		return
	}
	m.ModelRetries.WithLabelValues(model).Inc()
}

// RecordSchemaViolation records a response rejected by the validator.
func (m *Metrics) RecordSchemaViolation() {
	if m == nil {
		return
	}
	m.SchemaViolations.Inc()
}

// RecordCache records a response cache operation.
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// RecordDocumentProcessed records a document unit reaching a terminal state.
func (m *Metrics) RecordDocumentProcessed(status string) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.WithLabelValues(status).Inc()
}

// RecordDocumentFiltered records a document excluded by a filter query.
func (m *Metrics) RecordDocumentFiltered() {
	if m == nil {
		return
	}
	m.DocumentsFiltered.Inc()
}

// RecordRetrievalAttempt records one PDF retrieval attempt.
func (m *Metrics) RecordRetrievalAttempt(source, outcome string) {
	if m == nil {
		return
	}
	m.RetrievalAttempts.WithLabelValues(source, outcome).Inc()
}

// RecordDiscoveryPapers records papers returned by a discovery query.
func (m *Metrics) RecordDiscoveryPapers(source string, count int) {
	if m == nil {
		return
	}
	m.DiscoveryPapers.WithLabelValues(source).Add(float64(count))
}

// RecordSourceRequestFailed records a failed request to an external API.
func (m *Metrics) RecordSourceRequestFailed(source, errorType string) {
	if m == nil {
		return
	}
	m.SourceRequestsFailed.WithLabelValues(source, errorType).Inc()
}

// RecordSourceRateLimited records a rate-limited response from an external API.
func (m *Metrics) RecordSourceRateLimited(source string) {
	if m == nil {
		return
	}
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordCheckpointWrite records a checkpoint flush.
func (m *Metrics) RecordCheckpointWrite(outcome string) {
	if m == nil {
		return
	}
	m.CheckpointWrites.WithLabelValues(outcome).Inc()
}

// RecordBatchCompleted records the duration of a finished batch.
func (m *Metrics) RecordBatchCompleted(durationSeconds float64) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(durationSeconds)
}
