package stream

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/frauddesk/sentinel/internal/metrics"
)

// failureReasonHeader carries why a message was dead-lettered.
const failureReasonHeader = "x-failure-reason"

// DeadLetter routes unprocessable messages to the DLQ topic with their
// original payload and the failure reason, instead of blocking the stream.
type DeadLetter struct {
	writer *kafka.Writer
}

// NewDeadLetter creates the dead-letter writer.
func NewDeadLetter(brokers []string, topic string) *DeadLetter {
	return &DeadLetter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Send forwards the original message with the failure recorded in a header.
// stage labels the pipeline step that failed (decode, process).
func (d *DeadLetter) Send(ctx context.Context, key, payload []byte, stage string, cause error) error {
	metrics.DeadLetterTotal.WithLabelValues(stage).Inc()
	return d.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: failureReasonHeader, Value: []byte(cause.Error())},
		},
	})
}

// Close flushes and closes the underlying writer.
func (d *DeadLetter) Close() error {
	return d.writer.Close()
}
