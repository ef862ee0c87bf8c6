package services

import (
	"context"
	"fmt"

	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/repositories"
)

// CompletenessEvaluator computes the six-criterion completeness set for a
// profile directly from the store. Verification and repair both go through
// it, so "complete" means the same thing everywhere.
type CompletenessEvaluator struct {
	posts    repositories.PostRepository
	minPosts int
}

// NewCompletenessEvaluator creates the evaluator.
func NewCompletenessEvaluator(posts repositories.PostRepository, minPosts int) *CompletenessEvaluator {
	return &CompletenessEvaluator{posts: posts, minPosts: minPosts}
}

// Evaluate reads the profile's post statistics from the store and scores the
// criteria set. In-memory state from a run is deliberately not consulted:
// only committed rows count.
func (e *CompletenessEvaluator) Evaluate(ctx context.Context, profile *models.Profile) (*models.CompletenessAnalysis, error) {
	stats, err := e.posts.Stats(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("read post stats: %w", err)
	}

	criteria := models.EvaluateCompleteness(profile, *stats, e.minPosts)
	return &models.CompletenessAnalysis{
		ProfileID:         profile.ID,
		Handle:            profile.Handle,
		Criteria:          criteria,
		Score:             criteria.Score(),
		MissingCriteria:   criteria.Missing(),
		PostCount:         stats.Total,
		AnalyzedPostCount: stats.Analyzed,
		ThumbnailCount:    stats.WithThumbnail,
	}, nil
}
