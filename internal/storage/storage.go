// Package storage persists uploaded images and hands back a stable source
// reference for the rest of the pipeline.
package storage

import (
	"context"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/visionq/internal/config"
	"github.com/example/visionq/internal/logging"
)

// BlobRef describes a stored object.
type BlobRef struct {
	Name        string
	URL         string
	ContentType string
	Size        int
}

// ObjectStore is the collaborator the submission handler uploads images to.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (BlobRef, error)
}

// Preferred extensions for common image types; mime.ExtensionsByType is a
// fallback for anything else.
var mimeToExt = map[string]string{
	"image/jpeg":   "jpg",
	"image/png":    "png",
	"image/gif":    "gif",
	"image/webp":   "webp",
	"image/bmp":    "bmp",
	"image/tiff":   "tif",
	"image/x-icon": "ico",
	"image/heic":   "heic",
	"image/heif":   "heif",
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// BlobName builds a safe object name like "image-queries/2f1a...e9.png".
func BlobName(contentType, prefix string) string {
	base := strings.ReplaceAll(uuid.NewString(), "-", "")
	ext := extFromMime(contentType)
	cleaned := unsafeNameChars.ReplaceAllString(strings.Trim(prefix, "/"), "-")
	if cleaned == "" {
		return base + "." + ext
	}
	return cleaned + "/" + base + "." + ext
}

func extFromMime(contentType string) string {
	if contentType == "" {
		return "bin"
	}
	if ext, ok := mimeToExt[contentType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	if idx := strings.LastIndex(contentType, "/"); idx >= 0 {
		sub := unsafeNameChars.ReplaceAllString(contentType[idx+1:], "")
		if sub != "" {
			if len(sub) > 8 {
				sub = sub[:8]
			}
			return sub
		}
	}
	return "bin"
}

// DiskStore is a filesystem-backed object store. Production deployments point
// BLOB_BASE_URL at the CDN or bucket the directory is served from.
type DiskStore struct {
	dir     string
	baseURL string
	prefix  string
	logger  *zap.Logger
}

// NewDiskStore creates the backing directory if needed.
func NewDiskStore(cfg config.BlobConfig, logger *zap.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Join(cfg.Dir, cfg.Prefix), 0o755); err != nil {
		return nil, logging.NewOperationError("storage.init", "", err)
	}
	return &DiskStore{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		prefix:  cfg.Prefix,
		logger:  logger.Named("storage"),
	}, nil
}

// Upload writes the image bytes and returns the reference carried in the
// work message.
func (s *DiskStore) Upload(ctx context.Context, data []byte, contentType string) (BlobRef, error) {
	name := BlobName(contentType, s.prefix)
	target := filepath.Join(s.dir, filepath.FromSlash(name))

	if err := os.WriteFile(target, data, 0o644); err != nil {
		return BlobRef{}, logging.NewOperationError("storage.upload", "", err)
	}

	ref := BlobRef{
		Name:        name,
		URL:         s.baseURL + "/" + path.Clean(name),
		ContentType: contentType,
		Size:        len(data),
	}
	s.logger.Info("blob uploaded",
		zap.String("blob_name", ref.Name),
		zap.String("content_type", contentType),
		zap.Int("size", ref.Size))
	return ref, nil
}
