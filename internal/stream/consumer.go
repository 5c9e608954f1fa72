package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/frauddesk/sentinel/internal/engine"
	"github.com/frauddesk/sentinel/internal/model"
	"github.com/frauddesk/sentinel/internal/retry"
)

const (
	processAttempts  = 3
	processBaseDelay = 200 * time.Millisecond
)

// DecisionHook observes successfully emitted decisions (alert fanout, live
// feed). Hooks must not block and their errors are their own problem.
type DecisionHook func(ctx context.Context, d *model.Decision)

// Consumer pulls transactions off the inbound topic and drives the
// decision pipeline. Offsets are committed only after a message is fully
// handled (processed, skipped as duplicate, or dead-lettered), so a crash
// mid-pipeline redelivers per the at-least-once contract.
type Consumer struct {
	reader     *kafka.Reader
	processor  *engine.Processor
	deadLetter *DeadLetter
	hooks      []DecisionHook
	logger     *slog.Logger
}

// NewConsumer wires the inbound consumer group.
func NewConsumer(brokers []string, topic, group string, proc *engine.Processor, dlq *DeadLetter, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        group,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // explicit commits only
		}),
		processor:  proc,
		deadLetter: dlq,
		logger:     logger,
	}
}

// OnDecision registers a hook invoked for every emitted decision.
func (c *Consumer) OnDecision(hook DecisionHook) {
	c.hooks = append(c.hooks, hook)
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("transaction consumer started", "topic", c.reader.Config().Topic)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return c.reader.Close()
			}
			return err
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("offset commit failed", "error", err)
		}
	}
}

// handle fully disposes of one message. Unrecoverable messages go to the
// dead-letter topic; they never block the partition.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var tx model.Transaction
	if err := json.Unmarshal(msg.Value, &tx); err != nil {
		c.logger.Warn("undecodable transaction routed to dlq", "error", err)
		c.sendToDeadLetter(ctx, msg, "decode", err)
		return
	}

	var decision *model.Decision
	err := retry.Do(ctx, processAttempts, processBaseDelay, func() error {
		var perr error
		decision, perr = c.processor.Process(ctx, &tx)
		return perr
	})
	if err != nil {
		c.logger.Error("transaction processing exhausted retries",
			"transaction_id", tx.TransactionID, "error", err)
		c.sendToDeadLetter(ctx, msg, "process", err)
		return
	}
	if decision == nil {
		return // duplicate, already counted
	}

	for _, hook := range c.hooks {
		hook(ctx, decision)
	}
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg kafka.Message, stage string, cause error) {
	if c.deadLetter == nil {
		return
	}
	if err := c.deadLetter.Send(ctx, msg.Key, msg.Value, stage, cause); err != nil {
		c.logger.Error("dead-letter publish failed", "stage", stage, "error", err)
	}
}

// Close shuts the reader down.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
