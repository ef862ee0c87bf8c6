package stages

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/cdn"
	"github.com/pulseboard/creator-engine/pkg/fetcher"
	"github.com/pulseboard/creator-engine/pkg/models"
)

// thumbnailStage mirrors each post's thumbnail into object storage so the
// product serves assets from our CDN instead of hotlinking the source.
type thumbnailStage struct {
	downloader fetcher.Client
	uploader   cdn.Uploader
	logger     *zap.Logger
}

// NewThumbnailStage creates the thumbnail mirroring stage.
func NewThumbnailStage(downloader fetcher.Client, uploader cdn.Uploader, logger *zap.Logger) Stage {
	return &thumbnailStage{
		downloader: downloader,
		uploader:   uploader,
		logger:     logger.Named("thumbnail-stage"),
	}
}

func (s *thumbnailStage) Kind() models.StageKind { return models.StageThumbnail }

// Analyze mirrors every post thumbnail it can; a post with no thumbnail URL
// is skipped rather than failed. The stage errors only when every transfer
// failed, so one dead asset cannot sink the batch.
func (s *thumbnailStage) Analyze(ctx context.Context, input *Input) (*models.StageResult, error) {
	result := &models.StageResult{
		Kind:  models.StageThumbnail,
		Posts: make(map[uuid.UUID]*models.PostStageOutput, len(input.Posts)),
	}

	attempted := 0
	var lastErr error
	for _, post := range input.Posts {
		if post.Data.ThumbnailURL == "" {
			continue
		}
		attempted++

		raw, err := s.downloader.DownloadThumbnail(ctx, post.Data.ThumbnailURL)
		if err != nil {
			lastErr = err
			s.logger.Warn("Thumbnail download failed",
				zap.String("post_id", post.ID.String()),
				zap.Error(err))
			continue
		}

		url, err := s.uploader.UploadThumbnail(ctx, post.ID, raw)
		if err != nil {
			lastErr = err
			s.logger.Warn("Thumbnail upload failed",
				zap.String("post_id", post.ID.String()),
				zap.Error(err))
			continue
		}

		result.Posts[post.ID] = &models.PostStageOutput{CDNThumbnailURL: &url}
	}

	if attempted > 0 && len(result.Posts) == 0 {
		return nil, fmt.Errorf("thumbnail stage: all %d transfers failed: %w", attempted, lastErr)
	}
	return result, nil
}
