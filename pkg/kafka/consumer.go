// Package kafka carries corpus-change notifications and analytics events over
// segmentio/kafka-go. Producers JSON-encode Events; consumers hand raw
// messages to a MessageHandler and commit only what the handler accepted or
// what exhausted its redelivery budget.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/resilience"
)

// fetchBackoff spaces out fetches while the broker is unreachable.
const fetchBackoff = time.Second

// MessageHandler processes one message. A returned error triggers
// redelivery to the handler.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads one topic as part of a consumer group.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// ConsumerOption customises a Consumer.
type ConsumerOption func(*Consumer)

// WithRedelivery sets how often a failing message is handed back to the
// handler before it is committed and dropped.
func WithRedelivery(cfg resilience.RetryConfig) ConsumerOption {
	return func(c *Consumer) { c.retry = cfg }
}

// NewConsumer creates a Consumer for topic. By default a failing message is
// tried three times.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1e3,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		}),
		handler: handler,
		retry:   resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond},
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-time.After(fetchBackoff):
			case <-ctx.Done():
			}
			continue
		}
		if !c.process(ctx, msg) {
			return nil
		}
	}
}

// process hands msg to the handler and commits it. It reports false when
// ctx ended before the message was settled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "type", EventType(msg))
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	err := resilience.Retry(ctx, "kafka-handle", c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Error("dropping message after failed redelivery", "error", err)
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		log.Error("failed to commit message", "error", err)
	}
	return true
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// EventType returns the event type header of msg, or "".
func EventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderEventType {
			return string(h.Value)
		}
	}
	return ""
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
