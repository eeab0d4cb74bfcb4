package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/visionq/internal/imagequery"
	"github.com/example/visionq/internal/logging"
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("image query not found")

// QueryRepository is the durable status store for image queries, keyed by
// query id. The submission handler creates rows, the worker updates them,
// readers never mutate.
type QueryRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewQueryRepository creates a new repository instance.
func NewQueryRepository(db *gorm.DB, logger *zap.Logger) *QueryRepository {
	return &QueryRepository{
		db:             db,
		logger:         logger.Named("query_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *QueryRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&ImageQueryRow{}, &DetectorRow{}, &FeedbackRow{})
}

// Create persists the initial QUEUED record. It must succeed before the
// corresponding work message is published.
func (r *QueryRepository) Create(ctx context.Context, q imagequery.ImageQuery) error {
	row := rowFromQuery(q)
	return r.executeWithRetry(ctx, "repository.create_query", q.ID, func() error {
		return r.db.WithContext(ctx).Create(row).Error
	})
}

// Get loads a record by query id.
func (r *QueryRepository) Get(ctx context.Context, id string) (imagequery.ImageQuery, error) {
	var row ImageQueryRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return imagequery.ImageQuery{}, logging.NewOperationError("repository.get_query", id, ErrNotFound)
	}
	if err != nil {
		return imagequery.ImageQuery{}, logging.NewOperationError("repository.get_query", id, err)
	}
	return queryFromRow(row), nil
}

// SaveResult upserts the worker's outcome for a query. A row already in a
// terminal status is left untouched: re-delivered messages must not rewrite
// a finished result.
func (r *QueryRepository) SaveResult(ctx context.Context, q imagequery.ImageQuery) error {
	return r.executeWithRetry(ctx, "repository.save_result", q.ID, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current ImageQueryRow
			err := tx.First(&current, "id = ?", q.ID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(rowFromQuery(q)).Error
			}
			if err != nil {
				return err
			}
			updates, ok := resultUpdates(current.Status, q)
			if !ok {
				r.logger.Warn("skipping write to terminal record",
					zap.String("image_query_id", q.ID),
					zap.String("status", current.Status))
				return nil
			}
			return tx.Model(&ImageQueryRow{}).Where("id = ?", q.ID).Updates(updates).Error
		})
	})
}

// resultUpdates builds the column updates for a worker outcome. It reports
// false when the stored row is already terminal: DONE and ERROR rows are
// final, so a redelivered message must never rewrite a finished result.
func resultUpdates(currentStatus string, q imagequery.ImageQuery) (map[string]any, bool) {
	if imagequery.IsTerminal(currentStatus) {
		return nil, false
	}
	return map[string]any{
		"status":          q.Status,
		"label":           q.Label,
		"confidence":      q.Confidence,
		"result_type":     q.ResultType,
		"count":           q.Count,
		"extra":           JSONMap(q.Extra),
		"done_processing": q.Terminal(),
		"updated_at":      time.Now().UTC(),
	}, true
}

// HumanLabel captures a reviewer's judgement for a query.
type HumanLabel struct {
	Label      string
	Confidence *float64
	Count      *float64
	Notes      string
	User       string
}

// ApplyHumanLabel records a human review without touching the worker-owned
// result fields.
func (r *QueryRepository) ApplyHumanLabel(ctx context.Context, id string, label HumanLabel) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"human_label":      label.Label,
		"human_labeled_at": now,
		"updated_at":       now,
	}
	if label.Confidence != nil {
		updates["human_confidence"] = *label.Confidence
	}
	if label.Notes != "" {
		updates["human_notes"] = label.Notes
	}
	if label.User != "" {
		updates["human_user"] = label.User
	}
	return r.executeWithRetry(ctx, "repository.apply_human_label", id, func() error {
		result := r.db.WithContext(ctx).Model(&ImageQueryRow{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MetricsAggregation holds raw aggregates over the image query table.
type MetricsAggregation struct {
	TotalCount        int64   `gorm:"column:total_count"`
	DoneCount         int64   `gorm:"column:done_count"`
	ErrorCount        int64   `gorm:"column:error_count"`
	AverageConfidence float64 `gorm:"column:average_confidence"`
}

// AggregateMetrics computes summary statistics over all queries.
func (r *QueryRepository) AggregateMetrics(ctx context.Context) (MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total_count,
		       COUNT(*) FILTER (WHERE status = 'DONE') AS done_count,
		       COUNT(*) FILTER (WHERE status = 'ERROR') AS error_count,
		       COALESCE(AVG(confidence), 0) AS average_confidence
		FROM image_queries
	`).Scan(&agg).Error
	if err != nil {
		return MetricsAggregation{}, logging.NewOperationError("repository.aggregate_metrics", "", err)
	}
	return agg, nil
}

func (r *QueryRepository) executeWithRetry(ctx context.Context, operation, queryID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, queryID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, queryID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, queryID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, queryID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, queryID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

func rowFromQuery(q imagequery.ImageQuery) *ImageQueryRow {
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return &ImageQueryRow{
		ID:             q.ID,
		DetectorID:     q.DetectorID,
		BlobURL:        q.SourceRef,
		Status:         q.Status,
		Label:          q.Label,
		Confidence:     q.Confidence,
		ResultType:     q.ResultType,
		Count:          q.Count,
		Extra:          JSONMap(q.Extra),
		DoneProcessing: q.Terminal(),
		CreatedAt:      createdAt,
		UpdatedAt:      time.Now().UTC(),
	}
}

func queryFromRow(row ImageQueryRow) imagequery.ImageQuery {
	q := imagequery.ImageQuery{
		ID:         row.ID,
		DetectorID: row.DetectorID,
		SourceRef:  row.BlobURL,
		Status:     row.Status,
		Label:      row.Label,
		Confidence: row.Confidence,
		ResultType: row.ResultType,
		Count:      row.Count,
		Extra:      map[string]any(row.Extra),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.HumanLabel != nil {
		q = q.WithExtra("human_label", *row.HumanLabel)
	}
	return q
}
