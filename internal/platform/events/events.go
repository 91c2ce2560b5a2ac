// Package events publishes domain events to Kafka. Events carry a small JSON
// envelope so consumers can route on source and detail type without parsing
// the payload. Publishing is best effort: callers log failures and continue.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event is the envelope written to the event topic.
type Event struct {
	Source     string      `json:"source"`
	DetailType string      `json:"detail_type"`
	Detail     interface{} `json:"detail"`
	Time       time.Time   `json:"time"`
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher discards events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// messageWriter is the subset of kafka.Writer used by the publisher.
// Declared locally so tests can substitute a fake.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher writing to the given brokers/topic.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish marshals the event envelope and writes it keyed by detail type so
// events of the same type land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", event.DetailType, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.DetailType),
		Value: payload,
	})
	if err != nil {
		p.logger.Warn().Err(err).
			Str("source", event.Source).
			Str("detail_type", event.DetailType).
			Msg("failed to publish event")
		return fmt.Errorf("writing event %s: %w", event.DetailType, err)
	}

	p.logger.Debug().
		Str("source", event.Source).
		Str("detail_type", event.DetailType).
		Msg("event published")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if closer, ok := p.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
