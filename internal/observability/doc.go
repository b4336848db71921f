// Package observability provides logging and metrics support for the askllm
// pipeline.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "console",
//	    Output: "stderr",
//	})
//
// Components derive child loggers and attach batch identifiers:
//
//	logger = logger.With().Str("component", "executor").Logger()
//	logger = observability.WithDocumentContext(logger, unit.ID, unit.BibtexKey)
//
// Identifiers can also travel in a context.Context:
//
//	ctx = observability.WithRunID(ctx, runID)
//	ctx = observability.WithDocumentID(ctx, unit.ID)
//	log := observability.LoggerFromContext(ctx, logger)
//
// # Metrics
//
// Metrics register against a caller-supplied registry so that the status
// server can expose exactly the pipeline's collectors:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics("askllm", reg)
//	metrics.RecordModelInvocation("gemini-2.5-flash", "succeeded", 3.2)
//
// Every Record method is safe to call on a nil *Metrics.
package observability
