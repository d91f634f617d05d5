package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish writes value under key. Keys are user ids, so one user's events stay ordered.
func (p *KafkaProducer) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	reader     *kafka.Reader
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

func NewKafkaConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *KafkaConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10MB
			MaxWait:  500 * time.Millisecond,
		}),
		logger:     logger.With("component", "kafka", "topic", topic),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Consume hands every message to handler and commits it afterwards. A failing message is
// retried a few times and then skipped, so one poison message cannot stall the partition.
func (c *KafkaConsumer) Consume(ctx context.Context, handler func(ctx context.Context, key string, value []byte) error) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Warn("error while reading message from kafka", "error", err)
			continue
		}

		for attempt := 1; ; attempt++ {
			err := handler(ctx, string(m.Key), m.Value)
			if err == nil {
				break
			}
			if attempt >= c.maxRetries || ctx.Err() != nil {
				c.logger.Error("dropping kafka message after retries",
					"partition", m.Partition, "offset", m.Offset, "attempts", attempt, "error", err)
				break
			}
			time.Sleep(c.retryDelay * time.Duration(attempt))
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to commit kafka offset", "offset", m.Offset, "error", err)
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
