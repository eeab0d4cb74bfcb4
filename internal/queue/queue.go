// Package queue implements the durable work queue on Redis lists using the
// reliable-queue pattern: BRPOPLPUSH moves a message into a per-queue
// processing list, acknowledging removes it there, abandoning pushes it back
// onto the work queue for redelivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/visionq/internal/config"
	"github.com/example/visionq/internal/imagequery"
	"github.com/example/visionq/internal/logging"
)

// Delivery is one received message plus its settlement actions. Exactly one
// of Ack or Abandon should be called once processing finishes.
type Delivery struct {
	Body    []byte
	ack     func(ctx context.Context) error
	abandon func(ctx context.Context) error
}

// NewDelivery builds a delivery around settlement callbacks.
func NewDelivery(body []byte, ack, abandon func(ctx context.Context) error) *Delivery {
	return &Delivery{Body: body, ack: ack, abandon: abandon}
}

// Ack removes the message permanently.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.ack(ctx)
}

// Abandon returns the message to the work queue for redelivery.
func (d *Delivery) Abandon(ctx context.Context) error {
	return d.abandon(ctx)
}

// RedisQueue is the Redis-backed implementation used by both binaries.
type RedisQueue struct {
	client         *redis.Client
	logger         *zap.Logger
	workQueue      string
	resultsQueue   string
	receiveMaxWait time.Duration
}

// NewRedisQueue wires a queue around an existing Redis client.
func NewRedisQueue(client *redis.Client, cfg config.QueueConfig, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{
		client:         client,
		logger:         logger.Named("queue"),
		workQueue:      cfg.WorkQueue,
		resultsQueue:   cfg.ResultsQueue,
		receiveMaxWait: cfg.ReceiveMaxWait,
	}
}

// PublishQuery enqueues a work message for the worker tier.
func (q *RedisQueue) PublishQuery(ctx context.Context, msg WorkMessage) error {
	msg.Kind = KindImageQuery
	body, err := json.Marshal(msg)
	if err != nil {
		return logging.NewOperationError("queue.publish_query", msg.ID, err)
	}
	if err := q.client.LPush(ctx, q.workQueue, body).Err(); err != nil {
		return logging.NewOperationError("queue.publish_query", msg.ID, err)
	}
	q.logger.Info("work message published",
		zap.String("queue", q.workQueue),
		zap.String("image_query_id", msg.ID),
		zap.Int("bytes", len(body)))
	return nil
}

// PublishResult enqueues a finished result on the fallback results queue.
func (q *RedisQueue) PublishResult(ctx context.Context, result imagequery.ImageQuery) error {
	body, err := json.Marshal(ResultMessage{Kind: KindResult, ImageQuery: result})
	if err != nil {
		return logging.NewOperationError("queue.publish_result", result.ID, err)
	}
	if err := q.client.LPush(ctx, q.resultsQueue, body).Err(); err != nil {
		return logging.NewOperationError("queue.publish_result", result.ID, err)
	}
	q.logger.Info("result message published",
		zap.String("queue", q.resultsQueue),
		zap.String("image_query_id", result.ID))
	return nil
}

// Receive blocks up to the configured max wait for the next work message.
// It returns (nil, nil) when the wait elapses with nothing to do, so the
// caller's loop can observe shutdown between messages.
func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	raw, err := q.client.BRPopLPush(ctx, q.workQueue, q.processingList(), q.receiveMaxWait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, logging.NewOperationError("queue.receive", "", err)
	}

	ack := func(ctx context.Context) error {
		return q.client.LRem(ctx, q.processingList(), 1, raw).Err()
	}
	abandon := func(ctx context.Context) error {
		pipe := q.client.TxPipeline()
		pipe.RPush(ctx, q.workQueue, raw)
		pipe.LRem(ctx, q.processingList(), 1, raw)
		_, err := pipe.Exec(ctx)
		return err
	}
	return NewDelivery([]byte(raw), ack, abandon), nil
}

// RequeueOrphans moves messages stranded in the processing list (a worker
// died mid-message) back onto the work queue. Called at worker startup.
func (q *RedisQueue) RequeueOrphans(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingList(), q.workQueue).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, logging.NewOperationError("queue.requeue_orphans", "", err)
		}
		moved++
	}
}

func (q *RedisQueue) processingList() string {
	return q.workQueue + ":processing"
}
