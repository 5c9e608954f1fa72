package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/frauddesk/sentinel/internal/model"
)

// TransactionProducer feeds the inbound topic from the ingest API, keyed by
// user id like every other writer so per-user ordering holds.
type TransactionProducer struct {
	writer *kafka.Writer
}

// NewTransactionProducer creates the ingest-side producer.
func NewTransactionProducer(brokers []string, topic string) *TransactionProducer {
	return &TransactionProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Produce enqueues one transaction for scoring.
func (p *TransactionProducer) Produce(ctx context.Context, tx *model.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.UserID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write transaction: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *TransactionProducer) Close() error {
	return p.writer.Close()
}
