package imagequery

// Normalize reconciles the historical wire shapes of an image-query payload
// into the canonical ImageQuery record. Several generations of payloads
// coexist: top-level label/confidence fields versus a nested "result" block,
// an explicit "status" string versus a boolean "done_processing" flag, and
// the legacy "answer" field standing in for "label". Everything not
// recognized as a first-class field is folded into Extra, with first-class
// fields winning on key collision.
//
// Normalize is deterministic, side-effect free, and idempotent: feeding the
// wire form of its output back in yields the same record.
func Normalize(raw map[string]any) ImageQuery {
	q := ImageQuery{
		ID:         stringField(raw, "id", "image_query_id"),
		DetectorID: stringField(raw, "detector_id"),
		SourceRef:  stringField(raw, "blob_url"),
		Status:     resolveStatus(raw),
	}

	result, _ := raw["result"].(map[string]any)

	if label := stringField(raw, "label"); label != "" {
		q.Label = &label
	} else if label := stringField(result, "label"); label != "" {
		q.Label = &label
	} else if answer := stringField(raw, "answer"); answer != "" {
		q.Label = &answer
	}

	if conf, ok := floatField(raw, "confidence"); ok {
		q.Confidence = &conf
	} else if conf, ok := floatField(result, "confidence"); ok {
		q.Confidence = &conf
	}
	if q.Confidence != nil {
		clamped := clamp01(*q.Confidence)
		q.Confidence = &clamped
	}

	if rt := stringField(raw, "result_type"); rt != "" {
		q.ResultType = &rt
	}

	if count, ok := floatField(raw, "count"); ok {
		q.Count = &count
	} else if count, ok := floatField(result, "count"); ok {
		q.Count = &count
	} else if count, ok := floatField(result, "value"); ok {
		q.Count = &count
	}

	q.Extra = collectExtra(raw, result)
	return q
}

// firstClassKeys are consumed by Normalize and never folded into Extra.
var firstClassKeys = map[string]struct{}{
	"id":              {},
	"image_query_id":  {},
	"detector_id":     {},
	"blob_url":        {},
	"status":          {},
	"done_processing": {},
	"label":           {},
	"answer":          {},
	"confidence":      {},
	"result_type":     {},
	"count":           {},
	"extra":           {},
	"result":          {},
	"created_at":      {},
	"updated_at":      {},
}

// resultConsumedKeys are lifted out of a nested result block.
var resultConsumedKeys = map[string]struct{}{
	"label":      {},
	"confidence": {},
	"count":      {},
	"value":      {},
}

func resolveStatus(raw map[string]any) string {
	if status := stringField(raw, "status"); status != "" {
		return status
	}
	if done, ok := raw["done_processing"].(bool); ok {
		if done {
			return StatusDone
		}
		return StatusProcessing
	}
	if raw["answer"] != nil || raw["label"] != nil {
		return StatusDone
	}
	if block, ok := raw["result"].(map[string]any); ok && len(block) > 0 {
		return StatusDone
	}
	return StatusQueued
}

func collectExtra(raw, result map[string]any) map[string]any {
	extra := map[string]any{}
	if declared, ok := raw["extra"].(map[string]any); ok {
		for k, v := range declared {
			extra[k] = v
		}
	}
	for k, v := range raw {
		if _, claimed := firstClassKeys[k]; claimed {
			continue
		}
		if v == nil {
			continue
		}
		if _, exists := extra[k]; !exists {
			extra[k] = v
		}
	}
	for k, v := range result {
		if _, claimed := resultConsumedKeys[k]; claimed {
			continue
		}
		if v == nil {
			continue
		}
		if _, exists := extra[k]; !exists {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := m[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func floatField(m map[string]any, key string) (float64, bool) {
	switch value := m[key].(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
