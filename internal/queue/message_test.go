package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/example/visionq/internal/imagequery"
)

func TestWorkMessageWireShape(t *testing.T) {
	threshold := 0.85
	msg := WorkMessage{
		Kind:                KindImageQuery,
		ID:                  "iq_1",
		DetectorID:          "det_1",
		SourceRef:           "file://blobs/iq_1.jpg",
		ConfidenceThreshold: &threshold,
		Metadata:            map[string]any{"site": "dock-4"},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for key, want := range map[string]any{
		"kind":                 "image-query",
		"image_query_id":       "iq_1",
		"detector_id":          "det_1",
		"blob_url":             "file://blobs/iq_1.jpg",
		"confidence_threshold": 0.85,
	} {
		if wire[key] != want {
			t.Fatalf("wire[%q] = %v, want %v", key, wire[key], want)
		}
	}
	if _, present := wire["timeout"]; present {
		t.Fatal("unset timeout must be omitted")
	}
}

func TestPeekKind(t *testing.T) {
	kind, err := PeekKind([]byte(`{"kind":"feedback","image_query_id":"iq_9"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != "feedback" {
		t.Fatalf("expected feedback, got %q", kind)
	}

	if _, err := PeekKind([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestResultMessageInlinesRecord(t *testing.T) {
	label := "YES"
	confidence := 0.93
	res := imagequery.ImageQuery{
		ID:         "iq_2",
		Status:     imagequery.StatusDone,
		Label:      &label,
		Confidence: &confidence,
	}

	body, err := json.Marshal(ResultMessage{Kind: KindResult, ImageQuery: res})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(body, &wire); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if wire["kind"] != "result" || wire["id"] != "iq_2" || wire["label"] != "YES" {
		t.Fatalf("unexpected wire shape: %v", wire)
	}
}

func TestDeliverySettlement(t *testing.T) {
	acked, abandoned := 0, 0
	d := NewDelivery([]byte("{}"),
		func(ctx context.Context) error { acked++; return nil },
		func(ctx context.Context) error { abandoned++; return nil })

	if err := d.Ack(context.Background()); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if err := d.Abandon(context.Background()); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}
	if acked != 1 || abandoned != 1 {
		t.Fatalf("expected each callback once, got ack=%d abandon=%d", acked, abandoned)
	}
}
