// Package worker runs the long-lived consumer that turns queued image-query
// messages into persisted results.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/example/visionq/internal/imagequery"
	"github.com/example/visionq/internal/inference"
	"github.com/example/visionq/internal/queue"
	"github.com/example/visionq/internal/wait"
)

// ResultStore is the status-store surface the consumer writes to.
type ResultStore interface {
	SaveResult(ctx context.Context, q imagequery.ImageQuery) error
}

// WorkSource supplies deliveries and accepts fallback result messages.
type WorkSource interface {
	Receive(ctx context.Context) (*queue.Delivery, error)
	PublishResult(ctx context.Context, result imagequery.ImageQuery) error
}

// Consumer processes one message at a time: parse, run inference behind the
// confidence gate, persist, settle the message.
type Consumer struct {
	source       WorkSource
	store        ResultStore
	inference    inference.Client
	defaults     inference.Defaults
	abandonPause time.Duration
	logger       *zap.Logger
}

// NewConsumer constructs a consumer.
func NewConsumer(source WorkSource, store ResultStore, client inference.Client, defaults inference.Defaults, abandonPause time.Duration, logger *zap.Logger) *Consumer {
	return &Consumer{
		source:       source,
		store:        store,
		inference:    client,
		defaults:     defaults,
		abandonPause: abandonPause,
		logger:       logger.Named("consumer"),
	}
}

// Run receives and processes messages until ctx is cancelled. Receive blocks
// with a short max-wait, so cancellation is observed between messages.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("worker listening")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("worker stopping")
			return ctx.Err()
		default:
		}

		delivery, err := c.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("receive failed", zap.Error(err))
			c.pause(ctx)
			continue
		}
		if delivery == nil {
			continue
		}

		c.handleDelivery(ctx, delivery)
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery *queue.Delivery) {
	// Kinds this consumer does not handle are settled before the full decode,
	// so other message shapes sharing the queue never look malformed here.
	kind, err := queue.PeekKind(delivery.Body)
	if err != nil {
		c.logger.Error("processing failed", zap.Error(err))
		c.abandon(ctx, delivery)
		return
	}
	if kind != queue.KindImageQuery {
		c.logger.Info("skipping message", zap.String("kind", kind))
		c.ack(ctx, delivery, "")
		return
	}

	var msg queue.WorkMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("processing failed", zap.Error(err))
		c.abandon(ctx, delivery)
		return
	}

	opLogger := c.logger.With(zap.String("image_query_id", msg.ID))
	opLogger.Info("processing message", zap.String("detector_id", msg.DetectorID))

	result, err := c.process(ctx, msg)
	if err != nil {
		opLogger.Error("processing failed", zap.Error(err))
		c.abandon(ctx, delivery)
		return
	}

	if err := c.store.SaveResult(ctx, result); err != nil {
		// The store is degraded. Push the result onto the fallback channel so
		// it is not lost, and still settle the original message: redelivering
		// it would only repeat the inference call.
		opLogger.Warn("status store unavailable, publishing result to fallback queue", zap.Error(err))
		if err := c.source.PublishResult(ctx, result); err != nil {
			opLogger.Error("fallback publish failed", zap.Error(err))
			c.abandon(ctx, delivery)
			return
		}
	}

	c.ack(ctx, delivery, msg.ID)
	opLogger.Info("message completed", zap.String("status", result.Status))
}

// process runs the inference call behind the confidence gate and rekeys the
// outcome to the pipeline's own query id.
func (c *Consumer) process(ctx context.Context, msg queue.WorkMessage) (imagequery.ImageQuery, error) {
	threshold := c.defaults.ConfidenceThreshold
	if msg.ConfidenceThreshold != nil {
		threshold = *msg.ConfidenceThreshold
	}
	timeout := c.defaults.Timeout
	if msg.TimeoutSec != nil {
		timeout = time.Duration(*msg.TimeoutSec * float64(time.Second))
	}

	submitted, err := c.inference.Ask(ctx, msg.DetectorID, msg.SourceRef, msg.Metadata)
	if err != nil {
		return imagequery.ImageQuery{}, err
	}

	final := submitted
	if !submitted.Terminal() && !submitted.ConfidentAbove(threshold) {
		final = wait.Until(ctx,
			func(ctx context.Context) (imagequery.ImageQuery, error) {
				return c.inference.Poll(ctx, submitted.ID)
			},
			func(q imagequery.ImageQuery) bool { return q.ConfidentAbove(threshold) },
			imagequery.ImageQuery.Terminal,
			timeout, c.defaults.PollInterval)
		if final.ID == "" {
			final = submitted
		}
	}

	// The record is keyed by the id the client polls, not the inference
	// service's own query id.
	result := final
	result.ID = msg.ID
	result.DetectorID = msg.DetectorID
	result.SourceRef = msg.SourceRef
	if !result.Terminal() {
		result.Status = imagequery.StatusProcessing
	}
	if final.ID != "" && final.ID != msg.ID {
		result = result.WithExtra("upstream_query_id", final.ID)
	}
	if len(msg.Metadata) > 0 {
		result = result.WithExtra("metadata", msg.Metadata)
	}
	return result, nil
}

func (c *Consumer) ack(ctx context.Context, delivery *queue.Delivery, queryID string) {
	if err := delivery.Ack(ctx); err != nil {
		c.logger.Error("ack failed", zap.Error(err), zap.String("image_query_id", queryID))
	}
}

// abandon returns the message for redelivery and pauses briefly so a poison
// message cannot spin the loop.
func (c *Consumer) abandon(ctx context.Context, delivery *queue.Delivery) {
	if err := delivery.Abandon(ctx); err != nil {
		c.logger.Error("abandon failed", zap.Error(err))
	}
	c.pause(ctx)
}

func (c *Consumer) pause(ctx context.Context) {
	timer := time.NewTimer(c.abandonPause)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}
}
