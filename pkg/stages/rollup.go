package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/creator-engine/pkg/models"
)

// PostReader is the slice of the post repository the rollup stage needs. The
// rollup must aggregate what actually landed in storage, never the in-memory
// fetch payload.
type PostReader interface {
	ListByProfile(ctx context.Context, profileID uuid.UUID) ([]*models.Post, error)
}

// rollupStage computes the profile-level aggregation from already-persisted
// per-post stage output.
type rollupStage struct {
	posts PostReader
}

// NewRollupStage creates the profile rollup stage.
func NewRollupStage(posts PostReader) Stage {
	return &rollupStage{posts: posts}
}

func (s *rollupStage) Kind() models.StageKind { return models.StageRollup }

func (s *rollupStage) Analyze(ctx context.Context, input *Input) (*models.StageResult, error) {
	persisted, err := s.posts.ListByProfile(ctx, input.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("rollup stage: list posts: %w", err)
	}

	rollup, err := ComputeRollup(persisted)
	if err != nil {
		return nil, fmt.Errorf("rollup stage: %w", err)
	}

	return &models.StageResult{
		Kind:   models.StageRollup,
		Rollup: rollup,
	}, nil
}

// Weights of the bounded content quality score.
const (
	qualitySentimentWeight     = 0.4
	qualityConcentrationWeight = 0.3
	qualityCoverageWeight      = 0.3
)

// ComputeRollup aggregates persisted per-post stage output into a profile
// rollup: category mode and distribution, mean sentiment, language frequency
// table, and a bounded quality score. The same computation backs the
// consistency engine's missing-rollup and stale-rollup repairs: O(posts),
// no re-fetch, no re-analysis.
func ComputeRollup(posts []*models.Post) (*models.Rollup, error) {
	categoryCounts := make(map[string]int)
	languageCounts := make(map[string]int)
	sentimentSum := 0.0
	sentimentCount := 0
	analyzed := 0

	for _, p := range posts {
		if p.AnalyzedAt == nil {
			continue
		}
		analyzed++
		if p.Category != nil {
			categoryCounts[*p.Category]++
		}
		if p.LanguageCode != nil {
			languageCounts[*p.LanguageCode]++
		}
		if p.SentimentScore != nil {
			sentimentSum += *p.SentimentScore
			sentimentCount++
		}
	}

	if analyzed == 0 {
		return nil, fmt.Errorf("no analyzed posts to aggregate")
	}

	categorized := 0
	for _, n := range categoryCounts {
		categorized += n
	}

	contentDistribution := make(map[string]float64, len(categoryCounts))
	primary := ""
	primaryCount := 0
	for category, n := range categoryCounts {
		contentDistribution[category] = float64(n) / float64(categorized)
		if n > primaryCount || (n == primaryCount && category < primary) {
			primary = category
			primaryCount = n
		}
	}

	languageDistribution := make(map[string]float64, len(languageCounts))
	spoken := 0
	for _, n := range languageCounts {
		spoken += n
	}
	for lang, n := range languageCounts {
		languageDistribution[lang] = float64(n) / float64(spoken)
	}

	avgSentiment := 0.0
	if sentimentCount > 0 {
		avgSentiment = sentimentSum / float64(sentimentCount)
	}

	// Quality score in [0, 1]: sentiment positivity rescaled from [-1, 1],
	// concentration of the dominant category, and analyzed-post coverage.
	positivity := (avgSentiment + 1) / 2
	concentration := 0.0
	if categorized > 0 {
		concentration = float64(primaryCount) / float64(categorized)
	}
	coverage := float64(analyzed) / float64(len(posts))
	quality := qualitySentimentWeight*positivity +
		qualityConcentrationWeight*concentration +
		qualityCoverageWeight*coverage
	quality = clamp01(quality)

	return &models.Rollup{
		PrimaryContentType:   primary,
		ContentDistribution:  contentDistribution,
		AvgSentimentScore:    avgSentiment,
		LanguageDistribution: languageDistribution,
		ContentQualityScore:  quality,
		ComputedAt:           time.Now(),
	}, nil
}
