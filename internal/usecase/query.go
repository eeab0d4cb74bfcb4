package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/visionq/internal/imagequery"
	"github.com/example/visionq/internal/logging"
	"github.com/example/visionq/internal/queue"
	"github.com/example/visionq/internal/repository"
	"github.com/example/visionq/internal/storage"
	"github.com/example/visionq/internal/wait"
)

// QueryStore is the persistence surface the submission flow needs.
type QueryStore interface {
	Create(ctx context.Context, q imagequery.ImageQuery) error
	Get(ctx context.Context, id string) (imagequery.ImageQuery, error)
	ApplyHumanLabel(ctx context.Context, id string, label repository.HumanLabel) error
	AggregateMetrics(ctx context.Context) (repository.MetricsAggregation, error)
}

// WorkPublisher publishes work messages for the worker tier.
type WorkPublisher interface {
	PublishQuery(ctx context.Context, msg queue.WorkMessage) error
}

// QueryUseCase orchestrates the submission flow: upload, create the QUEUED
// record, publish the work message, optionally wait for the outcome.
type QueryUseCase struct {
	store        QueryStore
	publisher    WorkPublisher
	objects      storage.ObjectStore
	cache        Cache
	logger       *zap.Logger
	maxSyncWait  time.Duration
	pollInterval time.Duration
	cacheTTL     time.Duration
}

// NewQueryUseCase constructs a new use case instance.
func NewQueryUseCase(
	store QueryStore,
	publisher WorkPublisher,
	objects storage.ObjectStore,
	cache Cache,
	logger *zap.Logger,
	maxSyncWait, pollInterval, cacheTTL time.Duration,
) *QueryUseCase {
	return &QueryUseCase{
		store:        store,
		publisher:    publisher,
		objects:      objects,
		cache:        cache,
		logger:       logger.Named("query_usecase"),
		maxSyncWait:  maxSyncWait,
		pollInterval: pollInterval,
		cacheTTL:     cacheTTL,
	}
}

// SubmitOptions carries the optional knobs on a submission.
type SubmitOptions struct {
	Wait                time.Duration
	ConfidenceThreshold *float64
	TimeoutSec          *float64
	Metadata            map[string]any
}

// Submit runs one image through the pipeline entry point. With a zero Wait it
// returns the freshly QUEUED record immediately; otherwise it polls the
// status store until the record turns terminal or the wait window closes.
// An exhausted wait is not an error: the last snapshot comes back annotated
// with extra.wait_timed_out.
func (uc *QueryUseCase) Submit(ctx context.Context, detectorID string, image []byte, contentType string, opts SubmitOptions) (imagequery.ImageQuery, error) {
	id := newQueryID()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit_query", id)

	ref, err := uc.objects.Upload(ctx, image, contentType)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.upload_image", id, fmt.Errorf("%w: %w", ErrStorageFailure, err))
		opLogger.Error("image upload failed", zap.Error(wrapped))
		return imagequery.ImageQuery{}, wrapped
	}

	now := time.Now().UTC()
	record := imagequery.ImageQuery{
		ID:         id,
		DetectorID: detectorID,
		SourceRef:  ref.URL,
		Status:     imagequery.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Write-before-publish: the record must exist before any worker can
	// possibly receive the message.
	if err := uc.store.Create(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.create_record", id, fmt.Errorf("%w: %w", ErrPersistenceFailure, err))
		opLogger.Error("initial record write failed", zap.Error(wrapped))
		return imagequery.ImageQuery{}, wrapped
	}

	msg := queue.WorkMessage{
		ID:                  id,
		DetectorID:          detectorID,
		SourceRef:           ref.URL,
		ConfidenceThreshold: opts.ConfidenceThreshold,
		TimeoutSec:          opts.TimeoutSec,
		Metadata:            opts.Metadata,
	}
	if err := uc.publisher.PublishQuery(ctx, msg); err != nil {
		wrapped := logging.NewOperationError("usecase.publish_query", id, fmt.Errorf("%w: %w", ErrEnqueueFailure, err))
		opLogger.Error("work message publish failed", zap.Error(wrapped))
		return imagequery.ImageQuery{}, wrapped
	}

	if opts.Wait <= 0 {
		return record, nil
	}

	window := opts.Wait
	if window > uc.maxSyncWait {
		window = uc.maxSyncWait
	}

	snapshot := wait.Until(ctx,
		func(ctx context.Context) (imagequery.ImageQuery, error) { return uc.store.Get(ctx, id) },
		func(q imagequery.ImageQuery) bool { return false },
		imagequery.ImageQuery.Terminal,
		window, uc.pollInterval)

	if snapshot.ID == "" {
		// The store never answered inside the window; fall back to what we
		// know we wrote.
		snapshot = record
	}
	if !snapshot.Terminal() {
		snapshot = snapshot.WithExtra("wait_timed_out", true)
	}
	return snapshot, nil
}

// Get returns the current record for a query, serving terminal results from
// the cache when possible.
func (uc *QueryUseCase) Get(ctx context.Context, id string) (imagequery.ImageQuery, error) {
	key := cacheKey(id)
	if cached, err := uc.cache.Get(ctx, key); err == nil {
		var q imagequery.ImageQuery
		if err := json.Unmarshal([]byte(cached), &q); err == nil {
			return q, nil
		}
		logging.WithOperation(uc.logger, "usecase.get_query", id).Warn("failed to decode cached record")
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_query", id).Warn("failed to read cache", zap.Error(err))
	}

	q, err := uc.store.Get(ctx, id)
	if err != nil {
		return imagequery.ImageQuery{}, err
	}

	// Only terminal records are immutable, so only they are safe to cache.
	if q.Terminal() {
		if serialized, err := json.Marshal(q); err == nil {
			if err := uc.cache.Set(ctx, key, string(serialized), uc.cacheTTL); err != nil {
				logging.WithOperation(uc.logger, "usecase.get_query", id).Warn("failed to cache record", zap.Error(err))
			}
		}
	}
	return q, nil
}

// ApplyHumanLabel records a reviewer's label and returns the updated record.
func (uc *QueryUseCase) ApplyHumanLabel(ctx context.Context, id string, label repository.HumanLabel) (imagequery.ImageQuery, error) {
	if err := uc.store.ApplyHumanLabel(ctx, id, label); err != nil {
		return imagequery.ImageQuery{}, err
	}
	return uc.store.Get(ctx, id)
}

func newQueryID() string {
	return "iq_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func cacheKey(id string) string {
	return "imagequery:" + id
}
