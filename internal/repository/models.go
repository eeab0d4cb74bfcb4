package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONMap stores loosely shaped JSON payloads (the "extra" column) in a
// jsonb column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, m)
	case string:
		return json.Unmarshal([]byte(data), m)
	}
	return errors.New("unsupported jsonb source type")
}

// GormDataType tells gorm which column type to migrate to.
func (JSONMap) GormDataType() string {
	return "jsonb"
}

// JSONArray stores JSON lists (bounding boxes) in a jsonb column.
type JSONArray []any

// Value implements driver.Valuer.
func (a JSONArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *JSONArray) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, a)
	case string:
		return json.Unmarshal([]byte(data), a)
	}
	return errors.New("unsupported jsonb source type")
}

// GormDataType tells gorm which column type to migrate to.
func (JSONArray) GormDataType() string {
	return "jsonb"
}

// ImageQueryRow is the persisted form of an image query, one row per query id.
type ImageQueryRow struct {
	ID             string     `gorm:"column:id;primaryKey;size:64"`
	DetectorID     string     `gorm:"column:detector_id;size:64;index"`
	BlobURL        string     `gorm:"column:blob_url;type:text"`
	Status         string     `gorm:"column:status;size:16"`
	Label          *string    `gorm:"column:label;size:32"`
	Confidence     *float64   `gorm:"column:confidence"`
	ResultType     *string    `gorm:"column:result_type;size:32"`
	Count          *float64   `gorm:"column:count"`
	Extra          JSONMap    `gorm:"column:extra"`
	DoneProcessing bool       `gorm:"column:done_processing"`
	HumanLabel     *string    `gorm:"column:human_label;size:32"`
	HumanConf      *float64   `gorm:"column:human_confidence"`
	HumanNotes     *string    `gorm:"column:human_notes;type:text"`
	HumanUser      *string    `gorm:"column:human_user;size:64"`
	HumanLabeledAt *time.Time `gorm:"column:human_labeled_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (ImageQueryRow) TableName() string {
	return "image_queries"
}

// DetectorRow is a stored detector configuration.
type DetectorRow struct {
	ID                  string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name                string    `gorm:"column:name;size:128" json:"name"`
	Mode                string    `gorm:"column:mode;size:16" json:"mode"`
	Query               string    `gorm:"column:query;type:text" json:"query"`
	ConfidenceThreshold float64   `gorm:"column:confidence_threshold" json:"confidence_threshold"`
	Status              string    `gorm:"column:status;size:16" json:"status"`
	CreatedAt           time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (DetectorRow) TableName() string {
	return "detectors"
}

// FeedbackRow stores a ground-truth label submitted against a finished query.
type FeedbackRow struct {
	ID           string    `gorm:"column:id;primaryKey;size:64"`
	ImageQueryID string    `gorm:"column:image_query_id;size:64;index"`
	CorrectLabel string    `gorm:"column:correct_label;size:32"`
	Bboxes       JSONArray `gorm:"column:bboxes"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (FeedbackRow) TableName() string {
	return "feedback"
}
