package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/visionq/internal/logging"
)

// ErrDetectorNotFound is returned when no detector exists for the given id.
var ErrDetectorNotFound = errors.New("detector not found")

// DetectorRepository persists detector configurations.
type DetectorRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDetectorRepository creates a new repository instance.
func NewDetectorRepository(db *gorm.DB, logger *zap.Logger) *DetectorRepository {
	return &DetectorRepository{db: db, logger: logger.Named("detector_repository")}
}

// Create stores a new detector row.
func (r *DetectorRepository) Create(ctx context.Context, row *DetectorRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return logging.NewOperationError("repository.create_detector", row.ID, err)
	}
	return nil
}

// Get loads a detector by its public id.
func (r *DetectorRepository) Get(ctx context.Context, id string) (*DetectorRow, error) {
	var row DetectorRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, logging.NewOperationError("repository.get_detector", id, ErrDetectorNotFound)
	}
	if err != nil {
		return nil, logging.NewOperationError("repository.get_detector", id, err)
	}
	return &row, nil
}

// List returns all detectors, newest first.
func (r *DetectorRepository) List(ctx context.Context) ([]DetectorRow, error) {
	var rows []DetectorRow
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, logging.NewOperationError("repository.list_detectors", "", err)
	}
	return rows, nil
}

// SaveFeedback stores a ground-truth label for an image query.
func (r *DetectorRepository) SaveFeedback(ctx context.Context, row *FeedbackRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return logging.NewOperationError("repository.save_feedback", row.ImageQueryID, err)
	}
	return nil
}
