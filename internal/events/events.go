// Package events publishes batch lifecycle events to Kafka or the log.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/ask-llm/internal/config"
	"github.com/helixir/ask-llm/internal/domain"
)

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by run ID, so events of
// one run stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

// NewKafkaPublisher creates a publisher for cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaPublisherWithWriter(w, cfg.Topic)
}

// NewKafkaPublisherWithWriter creates a publisher over an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.RunID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: event.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.EventType, p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a log publisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, event *domain.Event) error {
	p.logger.Info().
		Str("event_type", event.EventType).
		Str("event_id", event.EventID).
		Str("run_id", event.RunID).
		RawJSON("payload", event.Payload).
		Msg("batch event")
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }

// Emitter builds events for one run and publishes them. Delivery failures
// are logged and never interrupt the batch.
type Emitter struct {
	publisher Publisher
	runID     string
	logger    zerolog.Logger
}

// NewEmitter creates an emitter. A nil publisher discards events.
func NewEmitter(publisher Publisher, runID string, logger zerolog.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		runID:     runID,
		logger:    logger.With().Str("component", "events").Logger(),
	}
}

// Emit publishes one event.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload interface{}) {
	if e == nil || e.publisher == nil {
		return
	}
	event, err := domain.NewEvent(eventType, e.runID, payload)
	if err != nil {
		e.logger.Warn().Err(err).Str("event_type", eventType).Msg("cannot build event")
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn().Err(err).Str("event_type", eventType).Msg("event not delivered")
	}
}

// BatchStarted emits batch.started.
func (e *Emitter) BatchStarted(ctx context.Context, p domain.BatchStartedPayload) {
	e.Emit(ctx, domain.EventTypeBatchStarted, p)
}

// DocumentCompleted emits document.completed.
func (e *Emitter) DocumentCompleted(ctx context.Context, p domain.DocumentCompletedPayload) {
	e.Emit(ctx, domain.EventTypeDocumentCompleted, p)
}

// DocumentFiltered emits document.filtered.
func (e *Emitter) DocumentFiltered(ctx context.Context, p domain.DocumentFilteredPayload) {
	e.Emit(ctx, domain.EventTypeDocumentFiltered, p)
}

// BatchCompleted emits batch.completed.
func (e *Emitter) BatchCompleted(ctx context.Context, p domain.BatchCompletedPayload) {
	e.Emit(ctx, domain.EventTypeBatchCompleted, p)
}

// Open returns the publisher selected by cfg: Kafka when enabled, otherwise
// the log.
func Open(cfg config.KafkaConfig, logger zerolog.Logger) Publisher {
	if cfg.Enabled && len(cfg.Brokers) > 0 {
		return NewKafkaPublisher(cfg)
	}
	return NewLogPublisher(logger)
}
