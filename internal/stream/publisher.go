// Package stream connects the decision pipeline to Kafka: an inbound
// consumer group over the transactions topic, an outbound decision
// publisher, and a dead-letter writer for unprocessable messages.
//
// Topics are keyed by user id so every user's transactions land on one
// partition and are processed strictly in arrival order by one consumer.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/frauddesk/sentinel/internal/model"
)

// Publisher writes decisions to the outbound topic, keyed by user id.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates the decision publisher. The hash balancer keeps
// per-user ordering intact downstream.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish emits one decision.
func (p *Publisher) Publish(ctx context.Context, d *model.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(d.UserID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write decision: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
