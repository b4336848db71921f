package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics("test", prometheus.NewRegistry())
}

func TestNewMetrics(t *testing.T) {
	m := newTestMetrics(t)
	require.NotNil(t, m)

	assert.NotNil(t, m.ModelInvocations)
	assert.NotNil(t, m.ModelInvocationDuration)
	assert.NotNil(t, m.ModelRetries)
	assert.NotNil(t, m.SchemaViolations)
	assert.NotNil(t, m.CacheRequests)
	assert.NotNil(t, m.DocumentsProcessed)
	assert.NotNil(t, m.DocumentsFiltered)
	assert.NotNil(t, m.RetrievalAttempts)
	assert.NotNil(t, m.DiscoveryPapers)
	assert.NotNil(t, m.SourceRequestsFailed)
	assert.NotNil(t, m.SourceRateLimited)
	assert.NotNil(t, m.CheckpointWrites)
	assert.NotNil(t, m.BatchDuration)
}

func TestNewMetrics_RegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("askllm", reg)
	m.RecordSchemaViolation()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "askllm_schema_violations_total")
}

func TestRecordModelInvocation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordModelInvocation("gemini-2.5-flash", "succeeded", 1.5)
	m.RecordModelInvocation("gemini-2.5-flash", "succeeded", 2.5)
	m.RecordModelInvocation("gemini-2.5-flash", "failed", 0.3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ModelInvocations.WithLabelValues("gemini-2.5-flash", "succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ModelInvocations.WithLabelValues("gemini-2.5-flash", "failed")))

	count, err := getHistogramSampleCount(m.ModelInvocationDuration.WithLabelValues("gemini-2.5-flash").(prometheus.Histogram))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}

func TestRecordModelRetry(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordModelRetry("gpt-4o")
	m.RecordModelRetry("gpt-4o")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ModelRetries.WithLabelValues("gpt-4o")))
}

func TestRecordCache(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordCache("hit")
	m.RecordCache("miss")
	m.RecordCache("miss")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))
}

func TestRecordDocuments(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordDocumentProcessed("succeeded")
	m.RecordDocumentFiltered()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DocumentsFiltered))
}

func TestRecordRetrievalAndDiscovery(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordRetrievalAttempt("semantic_scholar", "downloaded")
	m.RecordDiscoveryPapers("semantic_scholar", 42)
	m.RecordSourceRequestFailed("qwant", "http_503")
	m.RecordSourceRateLimited("qwant")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetrievalAttempts.WithLabelValues("semantic_scholar", "downloaded")))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.DiscoveryPapers.WithLabelValues("semantic_scholar")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("qwant", "http_503")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRateLimited.WithLabelValues("qwant")))
}

func TestRecordCheckpointAndBatch(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordCheckpointWrite("ok")
	m.RecordBatchCompleted(12)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CheckpointWrites.WithLabelValues("ok")))
	count, err := getHistogramSampleCount(m.BatchDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordModelInvocation("m", "succeeded", 1)
		m.RecordModelRetry("m")
		m.RecordSchemaViolation()
		m.RecordCache("hit")
		m.RecordDocumentProcessed("failed")
		m.RecordDocumentFiltered()
		m.RecordRetrievalAttempt("s", "o")
		m.RecordDiscoveryPapers("s", 1)
		m.RecordSourceRequestFailed("s", "e")
		m.RecordSourceRateLimited("s")
		m.RecordCheckpointWrite("ok")
		m.RecordBatchCompleted(1)
	})
}

// getHistogramSampleCount extracts the sample count from a histogram.
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	var metric dto.Metric
	if err := h.Write(&metric); err != nil {
		return 0, err
	}
	return metric.GetHistogram().GetSampleCount(), nil
}
