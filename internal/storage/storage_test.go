package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/visionq/internal/config"
)

func TestBlobNameUsesPreferredExtension(t *testing.T) {
	name := BlobName("image/jpeg", "image-queries")
	if !strings.HasPrefix(name, "image-queries/") {
		t.Fatalf("expected prefix, got %q", name)
	}
	if !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("expected .jpg suffix, got %q", name)
	}
}

func TestBlobNameUnknownMimeFallsBack(t *testing.T) {
	name := BlobName("application/x-custom-thing", "")
	if strings.Contains(name, "/") {
		t.Fatalf("expected no prefix, got %q", name)
	}
	if strings.HasSuffix(name, ".bin") {
		return
	}
	// Fallback may derive a short subtype-based extension instead.
	parts := strings.Split(name, ".")
	if len(parts) != 2 || parts[1] == "" || len(parts[1]) > 8 {
		t.Fatalf("unexpected extension in %q", name)
	}
}

func TestBlobNameSanitizesPrefix(t *testing.T) {
	name := BlobName("image/png", "a b/c")
	if strings.Contains(name, " ") {
		t.Fatalf("prefix not sanitized: %q", name)
	}
}

func TestDiskStoreUpload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(config.BlobConfig{
		Dir:     dir,
		BaseURL: "file://" + dir + "/",
		Prefix:  "image-queries",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	payload := []byte("not-really-a-png")
	ref, err := store.Upload(context.Background(), payload, "image/png")
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if ref.Size != len(payload) {
		t.Fatalf("expected size %d, got %d", len(payload), ref.Size)
	}
	if !strings.HasPrefix(ref.URL, "file://") || !strings.HasSuffix(ref.URL, ".png") {
		t.Fatalf("unexpected url: %q", ref.URL)
	}

	written, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(ref.Name)))
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if string(written) != string(payload) {
		t.Fatal("stored bytes differ from upload")
	}
}
