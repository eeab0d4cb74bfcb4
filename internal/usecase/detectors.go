package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/visionq/internal/repository"
)

// ErrInvalidDetector is returned for create payloads that fail validation.
var ErrInvalidDetector = errors.New("invalid detector")

// DetectorStore is the persistence surface for detector management.
type DetectorStore interface {
	Create(ctx context.Context, row *repository.DetectorRow) error
	Get(ctx context.Context, id string) (*repository.DetectorRow, error)
	List(ctx context.Context) ([]repository.DetectorRow, error)
	SaveFeedback(ctx context.Context, row *repository.FeedbackRow) error
}

// DetectorUseCase covers detector CRUD and feedback capture.
type DetectorUseCase struct {
	store  DetectorStore
	logger *zap.Logger
}

// NewDetectorUseCase constructs a new use case instance.
func NewDetectorUseCase(store DetectorStore, logger *zap.Logger) *DetectorUseCase {
	return &DetectorUseCase{store: store, logger: logger.Named("detector_usecase")}
}

// DetectorInput is a create request. Legacy field names (query_text,
// threshold) are mapped by the handler before reaching here.
type DetectorInput struct {
	Name                string
	Mode                string
	Query               string
	ConfidenceThreshold float64
}

var detectorModes = map[string]struct{}{"binary": {}, "count": {}, "custom": {}}

// Create validates and stores a detector, returning the stored row.
func (uc *DetectorUseCase) Create(ctx context.Context, input DetectorInput) (*repository.DetectorRow, error) {
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Query) == "" {
		return nil, ErrInvalidDetector
	}
	mode := input.Mode
	if mode == "" {
		mode = "binary"
	}
	if _, ok := detectorModes[mode]; !ok {
		return nil, ErrInvalidDetector
	}
	threshold := input.ConfidenceThreshold
	if threshold == 0 {
		threshold = 0.75
	}
	if threshold < 0 || threshold > 1 {
		return nil, ErrInvalidDetector
	}

	row := &repository.DetectorRow{
		ID:                  "det_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:                input.Name,
		Mode:                mode,
		Query:               input.Query,
		ConfidenceThreshold: threshold,
		Status:              "active",
	}
	if err := uc.store.Create(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// Get returns a detector by id.
func (uc *DetectorUseCase) Get(ctx context.Context, id string) (*repository.DetectorRow, error) {
	return uc.store.Get(ctx, id)
}

// List returns all detectors, newest first.
func (uc *DetectorUseCase) List(ctx context.Context) ([]repository.DetectorRow, error) {
	return uc.store.List(ctx)
}

// ErrInvalidFeedback is returned for feedback payloads that fail validation.
var ErrInvalidFeedback = errors.New("invalid feedback")

var feedbackLabels = map[string]struct{}{"YES": {}, "NO": {}, "COUNT": {}, "UNCLEAR": {}}

// SubmitFeedback records a ground-truth label against a query.
func (uc *DetectorUseCase) SubmitFeedback(ctx context.Context, imageQueryID, correctLabel string, bboxes []any) (string, error) {
	if imageQueryID == "" {
		return "", ErrInvalidFeedback
	}
	if _, ok := feedbackLabels[correctLabel]; !ok {
		return "", ErrInvalidFeedback
	}

	row := &repository.FeedbackRow{
		ID:           "fb_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		ImageQueryID: imageQueryID,
		CorrectLabel: correctLabel,
		Bboxes:       repository.JSONArray(bboxes),
	}
	if err := uc.store.SaveFeedback(ctx, row); err != nil {
		return "", err
	}
	return row.ID, nil
}
