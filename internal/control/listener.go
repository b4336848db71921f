// Package control consumes batch control commands from Kafka and forwards them
// to running batch workflows.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/ask-llm/internal/temporal"
)

// Actions understood by the listener.
const (
	ActionStop   = "stop"
	ActionCancel = "cancel"
)

// Command is one control message.
type Command struct {
	// Batch is the batch name given to `askllm submit`.
	Batch  string `json:"batch"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// BatchController is the subset of temporal.BatchClient the listener drives.
type BatchController interface {
	Stop(ctx context.Context, workflowID, reason string) error
	Cancel(ctx context.Context, workflowID string) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Config holds configuration for the control listener.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Listener reads commands from a Kafka topic.
type Listener struct {
	reader  messageReader
	batches BatchController
	logger  zerolog.Logger
}

// NewListener creates a listener on cfg.Topic.
func NewListener(cfg Config, batches BatchController, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, batches, logger)
}

func newListener(reader messageReader, batches BatchController, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:  reader,
		batches: batches,
		logger:  logger.With().Str("component", "control_listener").Logger(),
	}
}

// Run reads commands until ctx is cancelled. Malformed or failing commands are
// logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting control listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("control listener stopped")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read control message")
			continue
		}

		var cmd Command
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			l.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Int64("offset", msg.Offset).
				Msg("failed to decode control message")
			continue
		}

		if err := l.handle(ctx, cmd); err != nil {
			l.logger.Error().Err(err).
				Str("batch", cmd.Batch).
				Str("action", cmd.Action).
				Msg("control command failed")
		}
	}
}

func (l *Listener) handle(ctx context.Context, cmd Command) error {
	if cmd.Batch == "" {
		return errors.New("batch name is required")
	}
	workflowID := temporal.WorkflowID(cmd.Batch)

	var err error
	switch cmd.Action {
	case ActionStop:
		reason := cmd.Reason
		if reason == "" {
			reason = "control topic"
		}
		err = l.batches.Stop(ctx, workflowID, reason)
	case ActionCancel:
		err = l.batches.Cancel(ctx, workflowID)
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}

	if temporal.IsWorkflowNotFound(err) {
		l.logger.Warn().Str("workflow_id", workflowID).Msg("control command for unknown batch ignored")
		return nil
	}
	if err != nil {
		return err
	}
	l.logger.Info().
		Str("workflow_id", workflowID).
		Str("action", cmd.Action).
		Msg("control command delivered")
	return nil
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	return l.reader.Close()
}
