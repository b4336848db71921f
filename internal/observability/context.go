package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	runIDKey      contextKey = "run_id"
	documentIDKey contextKey = "document_id"
	queryIDKey    contextKey = "query_id"
)

// WithRunID adds the batch run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the batch run ID from context.
// Returns empty string if not present.
func RunIDFromContext(ctx context.Context) string {
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithDocumentID adds the document unit ID to the context.
func WithDocumentID(ctx context.Context, documentID int) context.Context {
	return context.WithValue(ctx, documentIDKey, documentID)
}

// DocumentIDFromContext retrieves the document unit ID from context.
// The second return value is false when no ID is present.
func DocumentIDFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(documentIDKey).(int)
	return id, ok
}

// WithQueryID adds the query definition ID to the context.
func WithQueryID(ctx context.Context, queryID int) context.Context {
	return context.WithValue(ctx, queryIDKey, queryID)
}

// QueryIDFromContext retrieves the query definition ID from context.
// The second return value is false when no ID is present.
func QueryIDFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(queryIDKey).(int)
	return id, ok
}

// LoggerFromContext decorates logger with whatever run, document and query
// identifiers the context carries.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	lc := logger.With()
	if runID := RunIDFromContext(ctx); runID != "" {
		lc = lc.Str("run_id", runID)
	}
	if id, ok := DocumentIDFromContext(ctx); ok {
		lc = lc.Int("document_id", id)
	}
	if id, ok := QueryIDFromContext(ctx); ok {
		lc = lc.Int("query_id", id)
	}
	return lc.Logger()
}
