// Package handlers wires the HTTP API to the use cases.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/visionq/internal/imagequery"
	"github.com/example/visionq/internal/repository"
	"github.com/example/visionq/internal/usecase"
)

// MaxUploadSize bounds a single image upload.
const MaxUploadSize = 10 << 20

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
	"image/bmp":  {},
}

// QueryService is the submission and read surface the handlers call.
type QueryService interface {
	Submit(ctx context.Context, detectorID string, image []byte, contentType string, opts usecase.SubmitOptions) (imagequery.ImageQuery, error)
	Get(ctx context.Context, id string) (imagequery.ImageQuery, error)
	ApplyHumanLabel(ctx context.Context, id string, label repository.HumanLabel) (imagequery.ImageQuery, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// DetectorService is the detector management surface the handlers call.
type DetectorService interface {
	Create(ctx context.Context, input usecase.DetectorInput) (*repository.DetectorRow, error)
	Get(ctx context.Context, id string) (*repository.DetectorRow, error)
	List(ctx context.Context) ([]repository.DetectorRow, error)
	SubmitFeedback(ctx context.Context, imageQueryID, correctLabel string, bboxes []any) (string, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The health probe
// stays outside the auth middleware.
func RegisterRoutes(router *gin.Engine, queries QueryService, detectors DetectorService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", authMiddleware)

	v1.POST("/image-queries", func(c *gin.Context) {
		detectorID := c.PostForm("detector_id")
		if detectorID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "detector_id is required"})
			return
		}

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		contentType := file.Header.Get("Content-Type")
		if _, ok := allowedImageTypes[contentType]; !ok {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		opts, err := submitOptionsFromForm(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		record, err := queries.Submit(c.Request.Context(), detectorID, data, contentType, opts)
		if err != nil {
			writeSubmitError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	})

	v1.GET("/image-queries/:id", func(c *gin.Context) {
		record, err := queries.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "image query not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load image query"})
			return
		}
		c.JSON(http.StatusOK, record)
	})

	v1.PUT("/image-queries/:id/human-label", func(c *gin.Context) {
		var req humanLabelRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Label == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "label is required"})
			return
		}

		label := repository.HumanLabel{
			Label:      req.Label,
			Confidence: req.Confidence,
			Count:      req.Count,
			Notes:      req.Notes,
			User:       req.User,
		}
		record, err := queries.ApplyHumanLabel(c.Request.Context(), c.Param("id"), label)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "image query not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record label"})
			return
		}
		c.JSON(http.StatusOK, record)
	})

	v1.POST("/detectors", func(c *gin.Context) {
		var req detectorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid detector payload"})
			return
		}

		// Older clients send query_text and threshold.
		query := req.Query
		if query == "" {
			query = req.QueryText
		}
		threshold := req.ConfidenceThreshold
		if threshold == 0 {
			threshold = req.Threshold
		}

		row, err := detectors.Create(c.Request.Context(), usecase.DetectorInput{
			Name:                req.Name,
			Mode:                req.Mode,
			Query:               query,
			ConfidenceThreshold: threshold,
		})
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidDetector) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create detector"})
			return
		}
		c.JSON(http.StatusCreated, row)
	})

	v1.GET("/detectors", func(c *gin.Context) {
		rows, err := detectors.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list detectors"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"detectors": rows})
	})

	v1.GET("/detectors/:id", func(c *gin.Context) {
		row, err := detectors.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repository.ErrDetectorNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "detector not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load detector"})
			return
		}
		c.JSON(http.StatusOK, row)
	})

	v1.POST("/feedback", func(c *gin.Context) {
		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback payload"})
			return
		}

		id, err := detectors.SubmitFeedback(c.Request.Context(), req.ImageQueryID, req.CorrectLabel, req.Bboxes)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidFeedback) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"feedback_id": id})
	})

	v1.GET("/metrics", func(c *gin.Context) {
		summary, err := queries.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

type humanLabelRequest struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Count      *float64 `json:"count"`
	Notes      string   `json:"notes"`
	User       string   `json:"user"`
}

type detectorRequest struct {
	Name                string  `json:"name"`
	Mode                string  `json:"mode"`
	Query               string  `json:"query"`
	QueryText           string  `json:"query_text"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Threshold           float64 `json:"threshold"`
}

type feedbackRequest struct {
	ImageQueryID string `json:"image_query_id"`
	CorrectLabel string `json:"correct_label"`
	Bboxes       []any  `json:"bboxes"`
}

func submitOptionsFromForm(c *gin.Context) (usecase.SubmitOptions, error) {
	var opts usecase.SubmitOptions

	if raw := c.PostForm("wait"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds < 0 {
			return opts, errors.New("wait must be a non-negative number of seconds")
		}
		opts.Wait = time.Duration(seconds * float64(time.Second))
	}
	if raw := c.PostForm("confidence_threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold < 0 || threshold > 1 {
			return opts, errors.New("confidence_threshold must be between 0 and 1")
		}
		opts.ConfidenceThreshold = &threshold
	}
	if raw := c.PostForm("patience_time"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			return opts, errors.New("patience_time must be a positive number of seconds")
		}
		opts.TimeoutSec = &seconds
	}
	if raw := c.PostForm("metadata"); raw != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return opts, errors.New("metadata must be a JSON object")
		}
		opts.Metadata = metadata
	}
	return opts, nil
}

// writeSubmitError maps submission failures onto status codes. Upstream
// infrastructure failures surface as 502 so clients can tell them apart from
// bad requests.
func writeSubmitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrStorageFailure),
		errors.Is(err, usecase.ErrPersistenceFailure),
		errors.Is(err, usecase.ErrEnqueueFailure):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
	}
}
