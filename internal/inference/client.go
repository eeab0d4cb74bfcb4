// Package inference talks to the external inference service. The service is
// opaque: submit a query, then poll it until the answer is confident enough,
// terminal, or the caller's deadline passes.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/visionq/internal/config"
	"github.com/example/visionq/internal/imagequery"
	"github.com/example/visionq/internal/logging"
)

// Client exposes the subset of the inference API the worker needs.
type Client interface {
	Ask(ctx context.Context, detectorID, imageRef string, metadata map[string]any) (imagequery.ImageQuery, error)
	Poll(ctx context.Context, queryID string) (imagequery.ImageQuery, error)
}

// HTTPClient is the production implementation.
type HTTPClient struct {
	endpoint string
	apiToken string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPClient builds a client from configuration.
func NewHTTPClient(cfg config.InferenceConfig, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiToken: cfg.APIToken,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:   logger.Named("inference"),
	}
}

type askRequest struct {
	DetectorID string         `json:"detector_id"`
	Image      string         `json:"image"`
	Wait       bool           `json:"wait"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Ask submits a query by image reference and returns the service's view of
// it, normalized. The returned id is the service's own query id.
func (c *HTTPClient) Ask(ctx context.Context, detectorID, imageRef string, metadata map[string]any) (imagequery.ImageQuery, error) {
	body, err := json.Marshal(askRequest{
		DetectorID: detectorID,
		Image:      imageRef,
		Wait:       false,
		Metadata:   metadata,
	})
	if err != nil {
		return imagequery.ImageQuery{}, logging.NewOperationError("inference.ask", "", err)
	}

	payload, err := c.do(ctx, http.MethodPost, "/v1/image-queries-json", bytes.NewReader(body))
	if err != nil {
		wrapped := logging.NewOperationError("inference.ask", "", err)
		c.logger.Error("inference submit failed", zap.Error(wrapped), zap.String("detector_id", detectorID))
		return imagequery.ImageQuery{}, wrapped
	}
	return imagequery.Normalize(payload), nil
}

// Poll fetches the current state of a query on the inference service.
func (c *HTTPClient) Poll(ctx context.Context, queryID string) (imagequery.ImageQuery, error) {
	payload, err := c.do(ctx, http.MethodGet, "/v1/image-queries/"+queryID, nil)
	if err != nil {
		return imagequery.ImageQuery{}, logging.NewOperationError("inference.poll", queryID, err)
	}
	return imagequery.Normalize(payload), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("inference service returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("malformed inference payload: %w", err)
	}
	return payload, nil
}

func truncate(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}

// Defaults carries the worker-side confidence gate settings used when a work
// message does not override them.
type Defaults struct {
	ConfidenceThreshold float64
	Timeout             time.Duration
	PollInterval        time.Duration
}

// DefaultsFromConfig extracts the gate settings from configuration.
func DefaultsFromConfig(cfg config.InferenceConfig) Defaults {
	return Defaults{
		ConfidenceThreshold: cfg.DefaultConfidence,
		Timeout:             cfg.DefaultTimeout,
		PollInterval:        cfg.PollInterval,
	}
}
