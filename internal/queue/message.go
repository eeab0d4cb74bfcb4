package queue

import (
	"encoding/json"

	"github.com/example/visionq/internal/imagequery"
)

// Message kinds sharing the queues. Consumers skip kinds they do not handle.
const (
	KindImageQuery = "image-query"
	KindResult     = "result"
)

// WorkMessage asks a worker to run one image query through inference.
type WorkMessage struct {
	Kind                string         `json:"kind"`
	ID                  string         `json:"image_query_id"`
	DetectorID          string         `json:"detector_id"`
	SourceRef           string         `json:"blob_url"`
	ConfidenceThreshold *float64       `json:"confidence_threshold,omitempty"`
	TimeoutSec          *float64       `json:"timeout,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// ResultMessage carries a finished result over the fallback channel when the
// status store is unreachable.
type ResultMessage struct {
	Kind string `json:"kind"`
	imagequery.ImageQuery
}

// Envelope is the minimal shape every queue message shares.
type Envelope struct {
	Kind string `json:"kind"`
}

// PeekKind extracts the kind discriminator without decoding the full body.
func PeekKind(body []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", err
	}
	return env.Kind, nil
}
