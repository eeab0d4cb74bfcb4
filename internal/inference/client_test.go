package inference

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"go.uber.org/zap"

	"github.com/example/visionq/internal/config"
	"github.com/example/visionq/internal/imagequery"
)

func newTestClient() *HTTPClient {
	return NewHTTPClient(config.InferenceConfig{
		Endpoint:       "http://inference.test",
		APIToken:       "token-123",
		RequestTimeout: 5 * time.Second,
	}, zap.NewNop())
}

func TestAskNormalizesResponse(t *testing.T) {
	client := newTestClient()
	httpmock.ActivateNonDefault(client.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://inference.test/v1/image-queries-json",
		func(req *http.Request) (*http.Response, error) {
			if got := req.Header.Get("Authorization"); got != "Bearer token-123" {
				t.Fatalf("missing bearer token, got %q", got)
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"image_query_id":  "up_123",
				"done_processing": false,
			})
		})

	q, err := client.Ask(context.Background(), "det_1", "file://blobs/a.jpg", map[string]any{"site": "dock-4"})
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if q.ID != "up_123" {
		t.Fatalf("expected upstream id, got %q", q.ID)
	}
	if q.Status != imagequery.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %q", q.Status)
	}
}

func TestPollNormalizesLegacyShape(t *testing.T) {
	client := newTestClient()
	httpmock.ActivateNonDefault(client.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "http://inference.test/v1/image-queries/up_123",
		httpmock.NewStringResponder(http.StatusOK,
			`{"id":"up_123","done_processing":true,"result":{"label":"YES","confidence":0.96}}`))

	q, err := client.Poll(context.Background(), "up_123")
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if q.Status != imagequery.StatusDone {
		t.Fatalf("expected DONE, got %q", q.Status)
	}
	if q.Label == nil || *q.Label != "YES" || q.Confidence == nil || *q.Confidence != 0.96 {
		t.Fatalf("unexpected result: %+v", q)
	}
}

func TestPollSurfacesServerErrors(t *testing.T) {
	client := newTestClient()
	httpmock.ActivateNonDefault(client.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, "http://inference.test/v1/image-queries/up_500",
		httpmock.NewStringResponder(http.StatusInternalServerError, "upstream down"))

	if _, err := client.Poll(context.Background(), "up_500"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestAskRejectsMalformedPayload(t *testing.T) {
	client := newTestClient()
	httpmock.ActivateNonDefault(client.client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://inference.test/v1/image-queries-json",
		httpmock.NewStringResponder(http.StatusOK, "<html>not json</html>"))

	if _, err := client.Ask(context.Background(), "det_1", "file://x", nil); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}
