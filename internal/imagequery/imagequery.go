package imagequery

import "time"

// Status values an image query moves through. Transitions are monotonic:
// QUEUED -> PROCESSING -> DONE or ERROR.
const (
	StatusQueued     = "QUEUED"
	StatusProcessing = "PROCESSING"
	StatusDone       = "DONE"
	StatusError      = "ERROR"
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusDone || status == StatusError
}

// ImageQuery is the canonical record tracking one classification request.
// Result fields stay nil until the worker produces an outcome.
type ImageQuery struct {
	ID         string         `json:"id"`
	DetectorID string         `json:"detector_id,omitempty"`
	SourceRef  string         `json:"blob_url,omitempty"`
	Status     string         `json:"status"`
	Label      *string        `json:"label,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
	ResultType *string        `json:"result_type,omitempty"`
	Count      *float64       `json:"count,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

// ConfidentAbove reports whether the query carries a confidence at or above
// the given threshold. A missing confidence never satisfies a threshold.
func (q ImageQuery) ConfidentAbove(threshold float64) bool {
	return q.Confidence != nil && *q.Confidence >= threshold
}

// Terminal reports whether the query reached DONE or ERROR.
func (q ImageQuery) Terminal() bool {
	return IsTerminal(q.Status)
}

// WithExtra returns a copy of the query with key set in Extra, allocating the
// map if needed. The receiver is not modified.
func (q ImageQuery) WithExtra(key string, value any) ImageQuery {
	extra := make(map[string]any, len(q.Extra)+1)
	for k, v := range q.Extra {
		extra[k] = v
	}
	extra[key] = value
	q.Extra = extra
	return q
}
