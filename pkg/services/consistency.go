package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/repositories"
	"github.com/pulseboard/creator-engine/pkg/stages"
)

// ConsistencyEngine runs the read-only checks that classify records stuck in
// a partial state, and owns the cheap repair actions that don't need the full
// pipeline. Checks are independent; one check's failure doesn't stop the
// rest.
type ConsistencyEngine struct {
	checks   repositories.ConsistencyRepository
	profiles repositories.ProfileRepository
	posts    repositories.PostRepository
	runs     repositories.RunRepository
	logger   *zap.Logger
}

// NewConsistencyEngine creates the engine.
func NewConsistencyEngine(
	checks repositories.ConsistencyRepository,
	profiles repositories.ProfileRepository,
	posts repositories.PostRepository,
	runs repositories.RunRepository,
	logger *zap.Logger,
) *ConsistencyEngine {
	return &ConsistencyEngine{
		checks:   checks,
		profiles: profiles,
		posts:    posts,
		runs:     runs,
		logger:   logger.Named("consistency"),
	}
}

// RunChecks executes every check against current committed state, no
// caching. Findings come back even when empty so operators see each check
// ran.
func (e *ConsistencyEngine) RunChecks(ctx context.Context) ([]models.Finding, error) {
	var findings []models.Finding

	partial, err := e.checks.ProfilesWithPartialPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("partial post analysis check: %w", err)
	}
	findings = append(findings, models.Finding{
		Check:           models.CheckPartialPostAnalysis,
		Severity:        models.SeverityHigh,
		AffectedCount:   len(partial),
		AffectedIDs:     partial,
		SuggestedAction: models.RepairRerunMissingStages,
		Detail:          "profiles where analysis stopped partway through the post set",
	})

	// The most value-destructive state: the per-post cost was already paid
	// but the summary never landed.
	missing, err := e.checks.ProfilesMissingRollup(ctx)
	if err != nil {
		return nil, fmt.Errorf("missing rollup check: %w", err)
	}
	findings = append(findings, models.Finding{
		Check:           models.CheckMissingRollup,
		Severity:        models.SeverityCritical,
		AffectedCount:   len(missing),
		AffectedIDs:     missing,
		SuggestedAction: models.RepairRecomputeRollup,
		Detail:          "profiles with analyzed posts but no rollup",
	})

	stale, err := e.checks.ProfilesWithStaleRollup(ctx)
	if err != nil {
		return nil, fmt.Errorf("stale rollup check: %w", err)
	}
	findings = append(findings, models.Finding{
		Check:           models.CheckStaleRollup,
		Severity:        models.SeverityMedium,
		AffectedCount:   len(stale),
		AffectedIDs:     stale,
		SuggestedAction: models.RepairRecomputeRollup,
		Detail:          "profiles whose rollup predates newer per-post analysis",
	})

	orphanCount, orphanProfiles, err := e.posts.CountOrphaned(ctx)
	if err != nil {
		return nil, fmt.Errorf("orphaned output check: %w", err)
	}
	findings = append(findings, models.Finding{
		Check:           models.CheckOrphanedOutput,
		Severity:        models.SeverityLow,
		AffectedCount:   orphanCount,
		AffectedIDs:     orphanProfiles,
		SuggestedAction: models.RepairDeleteOrphans,
		Detail:          "posts whose profile row no longer exists",
	})

	failedRuns, err := e.runs.ListFailedWithOutput(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed-but-productive check: %w", err)
	}
	productiveProfiles := make([]uuid.UUID, 0, len(failedRuns))
	seen := make(map[uuid.UUID]struct{}, len(failedRuns))
	for _, run := range failedRuns {
		if _, dup := seen[run.ProfileID]; dup {
			continue
		}
		seen[run.ProfileID] = struct{}{}
		productiveProfiles = append(productiveProfiles, run.ProfileID)
	}
	findings = append(findings, models.Finding{
		Check:           models.CheckFailedButProductive,
		Severity:        models.SeverityMedium,
		AffectedCount:   len(productiveProfiles),
		AffectedIDs:     productiveProfiles,
		SuggestedAction: models.RepairFullRepopulation,
		Detail:          "runs marked failed whose targets carry committed stage output",
	})

	return findings, nil
}

// SuggestAction picks the repair action for one profile from that profile's
// own findings, most severe check first.
func (e *ConsistencyEngine) SuggestAction(findings []models.Finding, profileID uuid.UUID) models.RepairAction {
	order := []models.CheckKind{
		models.CheckMissingRollup,
		models.CheckPartialPostAnalysis,
		models.CheckFailedButProductive,
		models.CheckStaleRollup,
		models.CheckOrphanedOutput,
	}
	byCheck := make(map[models.CheckKind]models.Finding, len(findings))
	for _, f := range findings {
		byCheck[f.Check] = f
	}
	for _, kind := range order {
		f, ok := byCheck[kind]
		if !ok {
			continue
		}
		for _, id := range f.AffectedIDs {
			if id == profileID {
				return f.SuggestedAction
			}
		}
	}
	return models.RepairNone
}

// RecomputeRollup rebuilds a profile's rollup purely from already-persisted
// per-post fields. No re-fetch, no re-analysis: O(posts) and cheap. Covers
// both the missing-rollup and stale-rollup findings.
func (e *ConsistencyEngine) RecomputeRollup(ctx context.Context, profileID uuid.UUID) error {
	profile, err := e.profiles.GetByID(ctx, profileID)
	if err != nil {
		return err
	}
	if profile == nil {
		return apperrors.ErrNotFound
	}

	posts, err := e.posts.ListByProfile(ctx, profileID)
	if err != nil {
		return err
	}

	rollup, err := stages.ComputeRollup(posts)
	if err != nil {
		return fmt.Errorf("recompute rollup for %s: %w", profileID, err)
	}

	if err := e.profiles.UpdateRollup(ctx, profileID, rollup); err != nil {
		return err
	}

	e.logger.Info("Recomputed rollup",
		zap.String("profile_id", profileID.String()),
		zap.String("primary_content_type", rollup.PrimaryContentType))
	return nil
}

// CleanOrphans deletes stage output whose parent row is gone.
func (e *ConsistencyEngine) CleanOrphans(ctx context.Context) (int64, error) {
	deleted, err := e.posts.DeleteOrphaned(ctx)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.logger.Info("Deleted orphaned posts", zap.Int64("count", deleted))
	}
	return deleted, nil
}
