// Package cdn uploads post thumbnails to object storage and returns their
// publicly servable CDN URLs.
package cdn

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
)

// Uploader stores a post thumbnail and returns the CDN URL it will be served
// from. Its output populates Post.CDNThumbnailURL.
type Uploader interface {
	UploadThumbnail(ctx context.Context, postID uuid.UUID, raw []byte) (string, error)
}

// Config holds object-storage settings.
type Config struct {
	Bucket  string
	BaseURL string // public CDN base, e.g. "https://cdn.pulseboard.io"
}

type gcsUploader struct {
	client  *storage.Client
	bucket  string
	baseURL string
	logger  *zap.Logger
}

// NewGCSUploader creates an Uploader backed by a Google Cloud Storage bucket.
// Credentials come from the ambient application-default chain.
func NewGCSUploader(ctx context.Context, cfg *Config, logger *zap.Logger) (Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("cdn bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://storage.googleapis.com/%s", cfg.Bucket)
	}
	return &gcsUploader{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.Named("cdn"),
	}, nil
}

var _ Uploader = (*gcsUploader)(nil)

func (u *gcsUploader) UploadThumbnail(ctx context.Context, postID uuid.UUID, raw []byte) (string, error) {
	objectPath := fmt.Sprintf("thumbnails/%s.jpg", postID)

	writer := u.client.Bucket(u.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = "image/jpeg"
	writer.CacheControl = "public, max-age=86400"

	if _, err := writer.Write(raw); err != nil {
		_ = writer.Close()
		return "", apperrors.Transient(fmt.Errorf("write thumbnail %s: %w", objectPath, err))
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.Transient(fmt.Errorf("close thumbnail writer %s: %w", objectPath, err))
	}

	url := fmt.Sprintf("%s/%s", u.baseURL, objectPath)
	u.logger.Debug("Thumbnail uploaded",
		zap.String("post_id", postID.String()),
		zap.Int("bytes", len(raw)),
		zap.String("url", url))
	return url, nil
}
