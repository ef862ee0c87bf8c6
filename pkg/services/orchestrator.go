package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/database"
	"github.com/pulseboard/creator-engine/pkg/fetcher"
	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/repositories"
	"github.com/pulseboard/creator-engine/pkg/retry"
	"github.com/pulseboard/creator-engine/pkg/stages"
)

// Orchestrator drives the fetch + N-stage analysis pipeline for one target
// handle: Pending -> FetchInProgress -> FetchDone -> AnalysisInProgress ->
// AnalysisDone -> Verified | Failed. Phase transitions are monotonic; each
// stage persists its output the moment it succeeds, so one stage's failure
// never rolls back another's committed work.
type Orchestrator struct {
	db        *database.DB
	profiles  repositories.ProfileRepository
	posts     repositories.PostRepository
	runs      repositories.RunRepository
	fetch     fetcher.Client
	registry  *stages.Registry
	evaluator *CompletenessEvaluator

	fetchRetry *retry.Config
	stageRetry *retry.Config
	threshold  float64
	fanOut     int

	// Guards repository writes from the stage goroutines. Under the credit
	// gate the whole pipeline shares one ambient pgx.Tx, and a pgx.Tx must
	// not be used from more than one goroutine at a time.
	writeMu sync.Mutex

	events EventEmitter
	logger *zap.Logger
}

// OrchestratorOptions bundles the tuning knobs.
type OrchestratorOptions struct {
	FetchRetry          *retry.Config
	StageRetry          *retry.Config
	AcceptanceThreshold float64
	StageFanOut         int
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(
	db *database.DB,
	profiles repositories.ProfileRepository,
	posts repositories.PostRepository,
	runs repositories.RunRepository,
	fetch fetcher.Client,
	registry *stages.Registry,
	evaluator *CompletenessEvaluator,
	opts OrchestratorOptions,
	events EventEmitter,
	logger *zap.Logger,
) *Orchestrator {
	if opts.FetchRetry == nil {
		opts.FetchRetry = retry.FetchConfig()
	}
	if opts.StageRetry == nil {
		opts.StageRetry = retry.StageConfig()
	}
	if opts.StageFanOut <= 0 {
		opts.StageFanOut = 3
	}
	return &Orchestrator{
		db:         db,
		profiles:   profiles,
		posts:      posts,
		runs:       runs,
		fetch:      fetch,
		registry:   registry,
		evaluator:  evaluator,
		fetchRetry: opts.FetchRetry,
		stageRetry: opts.StageRetry,
		threshold:  opts.AcceptanceThreshold,
		fanOut:     opts.StageFanOut,
		events:     events,
		logger:     logger.Named("orchestrator"),
	}
}

// Populate drives the full pipeline for one handle. An already-complete
// target short-circuits: the stored record comes back with zero fetches,
// zero analysis calls, and zero writes.
func (o *Orchestrator) Populate(ctx context.Context, handle string) (*models.PopulationResult, error) {
	existing, err := o.profiles.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		analysis, err := o.evaluator.Evaluate(ctx, existing)
		if err != nil {
			return nil, err
		}
		if analysis.Criteria.IsComplete() {
			o.logger.Debug("Target already complete, short-circuiting",
				zap.String("handle", handle))
			return &models.PopulationResult{
				Profile:        existing,
				Phase:          models.PhaseVerified,
				Complete:       true,
				ShortCircuited: true,
				SuccessRate:    1.0,
			}, nil
		}
	}

	run := &models.PopulationRun{Handle: handle, Phase: models.PhasePending}
	if existing != nil {
		// Known target: the run row exists from the start, so a crash
		// mid-fetch leaves a traceable record.
		run.ProfileID = existing.ID
		if err := o.runs.Create(ctx, run); err != nil {
			return nil, err
		}
		o.advance(ctx, run, models.PhaseFetchInProgress)
	}

	// Fetch phase. Exhausting the fetch retry budget fails the whole run.
	var profileData *models.ProfileData
	var postData []models.PostData
	fetchErr := retry.DoIfRetryable(ctx, o.fetchRetry, func() error {
		var err error
		profileData, postData, err = o.fetch.FetchProfile(ctx, handle)
		return err
	}, func(attempt int, err error) {
		if err != nil {
			o.logger.Warn("Fetch attempt failed",
				zap.String("handle", handle),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	})
	if fetchErr != nil {
		if run.ID != uuid.Nil {
			o.failRun(ctx, run, fetchErr)
		}
		return nil, fmt.Errorf("fetch %q: %w", handle, fetchErr)
	}

	// Profile and posts land in one local transaction. When the call is
	// gated, this joins the gate's transaction instead of opening its own.
	profile := &models.Profile{
		Handle:        profileData.Handle,
		FullName:      profileData.FullName,
		Biography:     profileData.Biography,
		FollowerCount: profileData.FollowerCount,
		PostCount:     profileData.PostCount,
	}
	var stored []*models.Post
	err = database.InAmbientTx(ctx, o.db, func(txCtx context.Context) error {
		if err := o.profiles.Upsert(txCtx, profile); err != nil {
			return err
		}
		var upsertErr error
		stored, upsertErr = o.posts.BulkUpsert(txCtx, profile.ID, postData)
		return upsertErr
	})
	if err != nil {
		return nil, fmt.Errorf("persist fetch payload for %q: %w", handle, err)
	}

	if run.ID == uuid.Nil {
		run.ProfileID = profile.ID
		run.Phase = models.PhaseFetchInProgress
		if err := o.runs.Create(ctx, run); err != nil {
			return nil, err
		}
	}
	o.advance(ctx, run, models.PhaseFetchDone)

	input := &stages.Input{
		ProfileID: profile.ID,
		Profile:   profileData,
		Posts:     make([]stages.PostInput, 0, len(stored)),
	}
	for i, p := range stored {
		input.Posts = append(input.Posts, stages.PostInput{ID: p.ID, Data: postData[i]})
	}

	return o.analyzeAndVerify(ctx, run, input)
}

// Reanalyze re-enters the pipeline at the analysis phase for a stored
// profile: no fetch, stage input rebuilt from persisted rows. Each stage
// receives only the posts still missing its own output, so already-stamped
// columns cost nothing to re-run; the rollup runs regardless so the
// aggregate reflects whatever lands. This is the repair path for partially
// analyzed profiles.
func (o *Orchestrator) Reanalyze(ctx context.Context, profileID uuid.UUID) (*models.PopulationResult, error) {
	profile, err := o.profiles.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperrors.ErrNotFound
	}

	posts, err := o.posts.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	input := &stages.Input{
		ProfileID: profileID,
		Profile: &models.ProfileData{
			Handle:        profile.Handle,
			FullName:      profile.FullName,
			Biography:     profile.Biography,
			FollowerCount: profile.FollowerCount,
			PostCount:     profile.PostCount,
		},
	}
	for _, p := range posts {
		if p.AnalyzedAt != nil && p.CDNThumbnailURL != nil {
			continue
		}
		input.Posts = append(input.Posts, stages.PostInput{
			ID: p.ID,
			Data: models.PostData{
				ExternalID:   p.ExternalID,
				Caption:      p.Caption,
				LikeCount:    p.LikeCount,
				CommentCount: p.CommentCount,
				ViewCount:    p.ViewCount,
				ThumbnailURL: p.ThumbnailURL,
				PostedAt:     p.PostedAt,
			},
			Done: map[models.StageKind]bool{
				models.StageCategory:  p.Category != nil,
				models.StageSentiment: p.Sentiment != nil,
				models.StageLanguage:  p.LanguageCode != nil,
				models.StageThumbnail: p.CDNThumbnailURL != nil,
			},
		})
	}

	run := &models.PopulationRun{
		ProfileID: profileID,
		Handle:    profile.Handle,
		Phase:     models.PhaseFetchDone,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	return o.analyzeAndVerify(ctx, run, input)
}

// analyzeAndVerify is the shared tail of both entry points: run the stages,
// then recompute completeness and the success rate from the store, not from
// what the run believes it did.
func (o *Orchestrator) analyzeAndVerify(ctx context.Context, run *models.PopulationRun, input *stages.Input) (*models.PopulationResult, error) {
	o.advance(ctx, run, models.PhaseAnalysisInProgress)
	outcomes := o.runStages(ctx, input)
	o.advance(ctx, run, models.PhaseAnalysisDone)

	succeeded := 0
	var firstFailure string
	for _, oc := range outcomes {
		if oc.Succeeded {
			succeeded++
		} else if firstFailure == "" {
			firstFailure = fmt.Sprintf("%s: %s", oc.Kind, oc.Error)
		}
	}
	successRate := float64(succeeded) / float64(len(outcomes))

	if successRate < o.threshold {
		err := fmt.Errorf("%w: %d/%d stages succeeded (%s)",
			apperrors.ErrBelowThreshold, succeeded, len(outcomes), firstFailure)
		o.failRun(ctx, run, err)
		return nil, err
	}

	fresh, err := o.profiles.GetByID(ctx, input.ProfileID)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, fmt.Errorf("%w: profile %s vanished after analysis",
			apperrors.ErrVerificationMismatch, input.ProfileID)
	}
	if rollupSucceeded(outcomes) && !fresh.HasRollup() {
		// The store disagrees with what the run believes it wrote. Bug
		// signal; never swallowed.
		err := fmt.Errorf("%w: rollup stage reported success but profile %s has no rollup",
			apperrors.ErrVerificationMismatch, input.ProfileID)
		o.logger.Error("Verification mismatch", zap.String("handle", run.Handle), zap.Error(err))
		o.failRun(ctx, run, err)
		return nil, err
	}

	analysis, err := o.evaluator.Evaluate(ctx, fresh)
	if err != nil {
		return nil, err
	}

	run.Phase = models.PhaseVerified
	run.SuccessRate = &successRate
	run.PartialAccepted = successRate < 1.0
	if err := o.runs.Finish(ctx, run); err != nil {
		o.logger.Warn("Failed to finish run record", zap.Error(err))
	}
	o.events.RunFinished(run)

	return &models.PopulationResult{
		Profile:         fresh,
		Phase:           models.PhaseVerified,
		Complete:        analysis.Criteria.IsComplete(),
		PartialAccepted: successRate < 1.0,
		SuccessRate:     successRate,
		StageOutcomes:   outcomes,
	}, nil
}

// runStages executes every registered stage with a bounded fan-out. Per-post
// stages run concurrently (no two write the same columns); profile-level
// stages run strictly after, reading the per-post output that actually
// committed. Stage errors are recorded, never propagated: acceptance is
// decided by the success rate.
func (o *Orchestrator) runStages(ctx context.Context, input *stages.Input) []models.StageOutcome {
	var mu sync.Mutex
	var outcomes []models.StageOutcome

	record := func(oc models.StageOutcome) {
		mu.Lock()
		outcomes = append(outcomes, oc)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(o.fanOut)
	for _, stage := range o.registry.PostLevel() {
		stage := stage
		stageInput := input.ForKind(stage.Kind())
		if len(stageInput.Posts) == 0 {
			// Every post already carries this stage's output.
			continue
		}
		g.Go(func() error {
			record(o.runStage(ctx, stage, stageInput))
			return nil
		})
	}
	_ = g.Wait()

	// Rollup barrier: aggregation must only ever see committed rows.
	for _, stage := range o.registry.ProfileLevel() {
		record(o.runStage(ctx, stage, input))
	}

	return outcomes
}

// runStage runs one stage under its retry budget and persists its output as
// soon as it succeeds.
func (o *Orchestrator) runStage(ctx context.Context, stage stages.Stage, input *stages.Input) models.StageOutcome {
	outcome := models.StageOutcome{Kind: stage.Kind()}

	err := retry.DoIfRetryable(ctx, o.stageRetry, func() error {
		result, err := stage.Analyze(ctx, input)
		if err != nil {
			return err
		}
		return o.persistStageResult(ctx, input, result)
	}, func(attempt int, err error) {
		outcome.Attempts = attempt
		o.events.StageAttempt(input.ProfileID, stage.Kind(), attempt, err)
	})
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Succeeded = true
	return outcome
}

// persistStageResult commits one stage's output. Only the Analyze call runs
// fully concurrent; the write is serialized so every stage goroutine can
// share the pipeline's connection.
func (o *Orchestrator) persistStageResult(ctx context.Context, input *stages.Input, result *models.StageResult) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if result.Rollup != nil {
		return o.profiles.UpdateRollup(ctx, input.ProfileID, result.Rollup)
	}
	return o.posts.ApplyStageOutput(ctx, result.Kind, result.Posts)
}

// advance moves the run's durable phase marker forward. A marker write
// failure is logged, not fatal: the marker exists for later consistency
// analysis, not for correctness of the run itself.
func (o *Orchestrator) advance(ctx context.Context, run *models.PopulationRun, phase models.RunPhase) {
	run.Phase = phase
	if err := o.runs.UpdatePhase(ctx, run.ID, phase); err != nil {
		o.logger.Warn("Failed to advance run phase",
			zap.String("run_id", run.ID.String()),
			zap.String("phase", string(phase)),
			zap.Error(err))
	}
}

func (o *Orchestrator) failRun(ctx context.Context, run *models.PopulationRun, cause error) {
	run.Phase = models.PhaseFailed
	msg := cause.Error()
	run.Error = &msg

	if run.ID == uuid.Nil {
		if err := o.runs.Create(ctx, run); err != nil {
			o.logger.Warn("Failed to record failed run", zap.Error(err))
			return
		}
	}
	if err := o.runs.Finish(ctx, run); err != nil {
		o.logger.Warn("Failed to finish failed run", zap.Error(err))
	}
	o.events.RunFinished(run)
}

func rollupSucceeded(outcomes []models.StageOutcome) bool {
	for _, oc := range outcomes {
		if oc.Kind == models.StageRollup {
			return oc.Succeeded
		}
	}
	return false
}
