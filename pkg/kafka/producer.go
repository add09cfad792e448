package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
)

// HeaderEventType names the event type header set on every message whose
// Event has a Type.
const HeaderEventType = "event-type"

// Event is the unit of data published to Kafka. Key picks the partition,
// Value is JSON-encoded and Type travels as a header so consumers can route
// without decoding the body.
type Event struct {
	Key   string
	Type  string
	Value any
}

// Publisher is what event emitters depend on; Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	PublishBatch(ctx context.Context, events []Event) error
}

// Producer publishes JSON-encoded events to one topic.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

// NewProducer creates a synchronous, zstd-compressed Producer for topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Zstd,
		},
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes one event.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch encodes every event before writing any, so an unencodable
// event fails the whole batch without partial writes.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := encodeMessages(events)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("failed to publish", "count", len(msgs), "error", err)
		return fmt.Errorf("publishing %d events to %s: %w", len(msgs), p.topic, err)
	}
	p.logger.Debug("published", "count", len(msgs))
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func encodeMessages(events []Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding event %d (%s): %w", i, e.Type, err)
		}
		msgs[i] = kafka.Message{Key: []byte(e.Key), Value: value}
		if e.Type != "" {
			msgs[i].Headers = []kafka.Header{{Key: HeaderEventType, Value: []byte(e.Type)}}
		}
	}
	return msgs, nil
}
