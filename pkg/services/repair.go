package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/config"
	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/repositories"
)

// RepairDriver is the operator-facing batch controller: it scans the whole
// record store for incomplete profiles, asks the consistency engine what each
// one needs, and re-invokes the population pipeline under a bounded worker
// pool and a global rate limit. One target's failure never aborts the batch.
type RepairDriver struct {
	profiles  repositories.ProfileRepository
	posts     repositories.PostRepository
	repairs   repositories.RepairRepository
	engine    *ConsistencyEngine
	orch      *Orchestrator
	evaluator *CompletenessEvaluator

	cfg     config.RepairConfig
	limiter *rate.Limiter
	events  EventEmitter
	logger  *zap.Logger
}

// NewRepairDriver creates the driver.
func NewRepairDriver(
	profiles repositories.ProfileRepository,
	posts repositories.PostRepository,
	repairs repositories.RepairRepository,
	engine *ConsistencyEngine,
	orch *Orchestrator,
	evaluator *CompletenessEvaluator,
	cfg config.RepairConfig,
	events EventEmitter,
	logger *zap.Logger,
) *RepairDriver {
	limit := rate.Limit(cfg.TargetsPerSecond)
	if cfg.TargetsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &RepairDriver{
		profiles:  profiles,
		posts:     posts,
		repairs:   repairs,
		engine:    engine,
		orch:      orch,
		evaluator: evaluator,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		events:    events,
		logger:    logger.Named("repair"),
	}
}

// Scan scores the six-criterion completeness set for every stored profile,
// worst-first, straight from committed state with no caching.
func (d *RepairDriver) Scan(ctx context.Context, minPosts, limit int, includeComplete bool) ([]*models.CompletenessAnalysis, error) {
	if limit <= 0 || limit > d.cfg.ScanLimit {
		limit = d.cfg.ScanLimit
	}
	return d.profiles.ScanCompleteness(ctx, minPosts, limit, includeComplete)
}

// Repair runs a batch repair over the given targets. dryRun computes each
// target's suggested action and returns the plan without performing a single
// write, audit record included. Per-target failures are accumulated into the
// summary; the batch always returns one.
func (d *RepairDriver) Repair(ctx context.Context, targets []uuid.UUID, maxConcurrency int, dryRun bool, startedBy string) (*models.RepairSummary, error) {
	concurrency := maxConcurrency
	if concurrency <= 0 {
		concurrency = d.cfg.DefaultConcurrency
	}
	if concurrency > d.cfg.MaxConcurrency {
		concurrency = d.cfg.MaxConcurrency
	}

	findings, err := d.engine.RunChecks(ctx)
	if err != nil {
		return nil, fmt.Errorf("consistency checks: %w", err)
	}

	plan := make([]models.RepairTargetResult, len(targets))
	for i, id := range targets {
		action := d.engine.SuggestAction(findings, id)
		handle := ""
		if profile, err := d.profiles.GetByID(ctx, id); err == nil && profile != nil {
			handle = profile.Handle
			if action == models.RepairNone {
				// Not flagged by any check; fall back to the completeness
				// score to decide whether the full pipeline is needed.
				analysis, err := d.evaluator.Evaluate(ctx, profile)
				if err == nil && !analysis.Criteria.IsComplete() {
					action = models.RepairFullRepopulation
				}
			}
		}
		plan[i] = models.RepairTargetResult{ProfileID: id, Handle: handle, Action: action}
	}

	if dryRun {
		summary := &models.RepairSummary{
			TotalTargets: len(targets),
			DryRun:       true,
			Results:      plan,
		}
		return summary, nil
	}

	op := &models.RepairOperation{
		StartedBy:    startedBy,
		TotalTargets: len(targets),
		Status:       models.RepairStatusProcessing,
	}
	if err := d.repairs.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("create repair operation: %w", err)
	}

	var mu sync.Mutex
	results := make([]models.RepairTargetResult, 0, len(plan))

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, target := range plan {
		target := target
		g.Go(func() error {
			if err := d.limiter.Wait(ctx); err != nil {
				target.Error = err.Error()
				mu.Lock()
				results = append(results, target)
				mu.Unlock()
				return nil
			}

			// A panic or error here is this target's problem alone.
			err := func() (err error) {
				defer func() {
					if p := recover(); p != nil {
						err = fmt.Errorf("repair panicked: %v", p)
					}
				}()
				return d.repairOne(ctx, target.ProfileID, target.Action)
			}()
			if err != nil {
				d.logger.Warn("Target repair failed",
					zap.String("profile_id", target.ProfileID.String()),
					zap.String("action", string(target.Action)),
					zap.Error(err))
				target.Error = err.Error()
			} else {
				target.Succeeded = true
			}

			mu.Lock()
			results = append(results, target)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	succeeded, failed := 0, 0
	for _, res := range results {
		if res.Succeeded {
			succeeded++
		} else {
			failed++
		}
	}

	op.CompletedCount = succeeded
	op.FailedCount = failed
	op.Status = models.RepairStatusCompleted
	if err := d.repairs.Complete(ctx, op.ID, succeeded, failed, op.Status); err != nil {
		d.logger.Error("Failed to finalize repair operation",
			zap.String("operation_id", op.ID.String()),
			zap.Error(err))
	}
	d.events.RepairFinished(op)

	return &models.RepairSummary{
		OperationID:       op.ID,
		TotalTargets:      len(targets),
		SuccessfulRepairs: succeeded,
		FailedRepairs:     failed,
		Results:           results,
	}, nil
}

// repairOne applies one suggested action to one target.
func (d *RepairDriver) repairOne(ctx context.Context, profileID uuid.UUID, action models.RepairAction) error {
	switch action {
	case models.RepairRecomputeRollup:
		return d.engine.RecomputeRollup(ctx, profileID)
	case models.RepairRerunMissingStages:
		_, err := d.orch.Reanalyze(ctx, profileID)
		return err
	case models.RepairFullRepopulation:
		profile, err := d.profiles.GetByID(ctx, profileID)
		if err != nil {
			return err
		}
		if profile == nil {
			return apperrors.ErrNotFound
		}
		_, err = d.orch.Populate(ctx, profile.Handle)
		return err
	case models.RepairDeleteOrphans:
		_, err := d.engine.CleanOrphans(ctx)
		return err
	case models.RepairNone:
		return nil
	default:
		return fmt.Errorf("unknown repair action %q", action)
	}
}

// ValidateOne recomputes one handle's completeness report on demand.
func (d *RepairDriver) ValidateOne(ctx context.Context, handle string) (*models.CompletenessAnalysis, error) {
	profile, err := d.profiles.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperrors.ErrNotFound
	}
	return d.evaluator.Evaluate(ctx, profile)
}

// ListOperations returns recent batch audit records.
func (d *RepairDriver) ListOperations(ctx context.Context, limit int) ([]*models.RepairOperation, error) {
	if limit <= 0 {
		limit = 20
	}
	return d.repairs.ListRecent(ctx, limit)
}

// DashboardStats is the operator's store-wide health summary.
type DashboardStats struct {
	TotalProfiles      int                       `json:"total_profiles"`
	ProfilesWithRollup int                       `json:"profiles_with_rollup"`
	TotalPosts         int                       `json:"total_posts"`
	AnalyzedPosts      int                       `json:"analyzed_posts"`
	Findings           []models.Finding          `json:"findings"`
	RecentOperations   []*models.RepairOperation `json:"recent_operations"`
}

// Dashboard aggregates store counts, the latest consistency findings, and
// recent repair activity into one report.
func (d *RepairDriver) Dashboard(ctx context.Context) (*DashboardStats, error) {
	stats := &DashboardStats{}

	var err error
	if stats.TotalProfiles, err = d.profiles.Count(ctx); err != nil {
		return nil, err
	}
	if stats.ProfilesWithRollup, err = d.profiles.CountWithRollup(ctx); err != nil {
		return nil, err
	}
	if stats.TotalPosts, err = d.posts.Count(ctx); err != nil {
		return nil, err
	}
	if stats.AnalyzedPosts, err = d.posts.CountAnalyzed(ctx); err != nil {
		return nil, err
	}
	if stats.Findings, err = d.engine.RunChecks(ctx); err != nil {
		return nil, err
	}
	if stats.RecentOperations, err = d.repairs.ListRecent(ctx, 10); err != nil {
		return nil, err
	}

	return stats, nil
}
