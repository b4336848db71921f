package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stderr", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLogger(t *testing.T) {
	t.Run("creates logger with default config", func(t *testing.T) {
		logger := NewLogger(DefaultLoggingConfig())
		assert.NotEqual(t, zerolog.Logger{}, logger)
	})

	t.Run("applies level", func(t *testing.T) {
		logger := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: "stdout"})
		assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	})
}

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.Debug().Str("key", "value").Msg("test message")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test message", entry["message"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "debug", entry["level"])
	assert.Contains(t, entry, "time")
}

func TestNewLoggerTo_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(LoggingConfig{Level: "error", Format: "json"}, &buf)

	logger.Info().Msg("dropped")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestContextHelpers(t *testing.T) {
	decode := func(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
		t.Helper()
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		return entry
	}

	t.Run("document context", func(t *testing.T) {
		var buf bytes.Buffer
		WithDocumentContext(zerolog.New(&buf), 4, "smith2020").Info().Msg("x")
		entry := decode(t, &buf)
		assert.Equal(t, float64(4), entry["document_id"])
		assert.Equal(t, "smith2020", entry["bibtex_key"])
	})

	t.Run("document context without key", func(t *testing.T) {
		var buf bytes.Buffer
		WithDocumentContext(zerolog.New(&buf), 1, "").Info().Msg("x")
		entry := decode(t, &buf)
		assert.NotContains(t, entry, "bibtex_key")
	})

	t.Run("query context", func(t *testing.T) {
		var buf bytes.Buffer
		WithQueryContext(zerolog.New(&buf), 2, "gemini-2.5-pro").Info().Msg("x")
		entry := decode(t, &buf)
		assert.Equal(t, float64(2), entry["query_id"])
		assert.Equal(t, "gemini-2.5-pro", entry["model"])
	})

	t.Run("run, search and workflow context", func(t *testing.T) {
		var buf bytes.Buffer
		l := WithRunContext(zerolog.New(&buf), "run-9")
		l = WithSearchContext(l, "deep learning", "qwant")
		l = WithWorkflowContext(l, "wf-1", "r-1")
		l.Info().Msg("x")
		entry := decode(t, &buf)
		assert.Equal(t, "run-9", entry["run_id"])
		assert.Equal(t, "deep learning", entry["search_query"])
		assert.Equal(t, "qwant", entry["source"])
		assert.Equal(t, "wf-1", entry["workflow_id"])
		assert.Equal(t, "r-1", entry["workflow_run_id"])
	})
}

func TestTemporalLogger(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTemporalLogger(zerolog.New(&buf))

	tl.Info("workflow started", "WorkflowID", "wf-1", "Attempt", 2, "dangling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "workflow started", entry["message"])
	assert.Equal(t, "temporal-sdk", entry["component"])
	assert.Equal(t, "wf-1", entry["WorkflowID"])
	assert.Equal(t, float64(2), entry["Attempt"])
	assert.NotContains(t, entry, "dangling")
}
