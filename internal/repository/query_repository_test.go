package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/visionq/internal/imagequery"
	"github.com/example/visionq/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &QueryRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "iq_1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &QueryRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "iq_2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.QueryID != "iq_2" {
		t.Fatalf("unexpected query id: %s", opErr.QueryID)
	}
}

func TestRowRoundTripPreservesResultFields(t *testing.T) {
	label := "YES"
	confidence := 0.97
	resultType := "binary"
	q := imagequery.ImageQuery{
		ID:         "iq_round",
		DetectorID: "det_1",
		SourceRef:  "file://blobs/iq_round.jpg",
		Status:     imagequery.StatusDone,
		Label:      &label,
		Confidence: &confidence,
		ResultType: &resultType,
		Extra:      map[string]any{"model_version": "v3"},
	}

	got := queryFromRow(*rowFromQuery(q))

	if got.ID != q.ID || got.Status != q.Status || got.DetectorID != q.DetectorID {
		t.Fatalf("identity fields lost: %+v", got)
	}
	if got.Label == nil || *got.Label != label {
		t.Fatalf("label lost: %+v", got.Label)
	}
	if got.Confidence == nil || *got.Confidence != confidence {
		t.Fatalf("confidence lost: %+v", got.Confidence)
	}
	if got.Extra["model_version"] != "v3" {
		t.Fatalf("extra lost: %+v", got.Extra)
	}
}

func TestRowFromQueryMarksTerminalDoneProcessing(t *testing.T) {
	for status, want := range map[string]bool{
		imagequery.StatusQueued:     false,
		imagequery.StatusProcessing: false,
		imagequery.StatusDone:       true,
		imagequery.StatusError:      true,
	} {
		row := rowFromQuery(imagequery.ImageQuery{ID: "iq_x", Status: status})
		if row.DoneProcessing != want {
			t.Fatalf("status %s: done_processing = %v, want %v", status, row.DoneProcessing, want)
		}
	}
}

func TestResultUpdatesSkipsTerminalRows(t *testing.T) {
	label := "NO"
	confidence := 0.6
	redelivered := imagequery.ImageQuery{
		ID:         "iq_final",
		Status:     imagequery.StatusDone,
		Label:      &label,
		Confidence: &confidence,
	}

	for _, current := range []string{imagequery.StatusDone, imagequery.StatusError} {
		if updates, ok := resultUpdates(current, redelivered); ok {
			t.Fatalf("current status %s: terminal row must not be rewritten, got updates %v", current, updates)
		}
	}
}

func TestResultUpdatesWritesNonTerminalRows(t *testing.T) {
	label := "YES"
	confidence := 0.97
	outcome := imagequery.ImageQuery{
		ID:         "iq_live",
		Status:     imagequery.StatusDone,
		Label:      &label,
		Confidence: &confidence,
		Extra:      map[string]any{"upstream_query_id": "chk_9"},
	}

	for _, current := range []string{imagequery.StatusQueued, imagequery.StatusProcessing} {
		updates, ok := resultUpdates(current, outcome)
		if !ok {
			t.Fatalf("current status %s: expected a write", current)
		}
		if updates["status"] != imagequery.StatusDone {
			t.Fatalf("status column = %v, want DONE", updates["status"])
		}
		if updates["done_processing"] != true {
			t.Fatalf("done_processing column = %v, want true", updates["done_processing"])
		}
		if got := updates["label"].(*string); got == nil || *got != label {
			t.Fatalf("label column = %v, want %q", got, label)
		}
		if _, present := updates["updated_at"]; !present {
			t.Fatal("updated_at column missing from write")
		}
	}
}
