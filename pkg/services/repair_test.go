package services

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/config"
	"github.com/pulseboard/creator-engine/pkg/models"
)

type repairFixture struct {
	profiles *mockProfileRepo
	posts    *mockPostRepo
	runs     *mockRunRepo
	checks   *mockConsistencyRepo
	repairs  *mockRepairRepo
	fetch    *fakeFetcher
	events   *recorderEmitter
	driver   *RepairDriver
}

func newRepairFixture(t *testing.T) *repairFixture {
	t.Helper()
	f := &repairFixture{
		profiles: newMockProfileRepo(),
		posts:    newMockPostRepo(),
		runs:     newMockRunRepo(),
		checks:   &mockConsistencyRepo{},
		repairs:  &mockRepairRepo{},
		events:   &recorderEmitter{},
		fetch: &fakeFetcher{
			profile: &models.ProfileData{Handle: "fit_jane", FollowerCount: 1000, PostCount: 10},
			posts:   []models.PostData{{ExternalID: "p1", ThumbnailURL: "https://src/p1.jpg"}},
		},
	}

	engine := NewConsistencyEngine(f.checks, f.profiles, f.posts, f.runs, zap.NewNop())
	evaluator := NewCompletenessEvaluator(f.posts, 3)
	registry, _ := stubRegistry(nil)
	orch := NewOrchestrator(
		nil, f.profiles, f.posts, f.runs, f.fetch, registry, evaluator,
		OrchestratorOptions{
			FetchRetry:          fastRetry(0),
			StageRetry:          fastRetry(0),
			AcceptanceThreshold: 0.8,
			StageFanOut:         2,
		},
		f.events, zap.NewNop(),
	)

	f.driver = NewRepairDriver(
		f.profiles, f.posts, f.repairs, engine, orch, evaluator,
		config.RepairConfig{
			DefaultConcurrency: 2,
			MaxConcurrency:     4,
			TargetsPerSecond:   0, // unlimited in tests
			ScanLimit:          25,
		},
		f.events, zap.NewNop(),
	)
	return f
}

// analyzedProfile seeds a profile with analyzed posts but no rollup.
func (f *repairFixture) analyzedProfile(handle string) *models.Profile {
	profile := f.profiles.add(&models.Profile{Handle: handle, FollowerCount: 100})
	now := time.Now()
	category := "fitness"
	lang := "en"
	score := 0.4
	f.posts.byProfile[profile.ID] = []*models.Post{
		{ID: uuid.New(), ProfileID: profile.ID, AnalyzedAt: &now, Category: &category, LanguageCode: &lang, SentimentScore: &score},
	}
	return profile
}

func TestRepair_DryRunPerformsNoWrites(t *testing.T) {
	f := newRepairFixture(t)
	profile := f.analyzedProfile("fit_jane")
	f.checks.missing = []uuid.UUID{profile.ID}

	summary, err := f.driver.Repair(testContext(), []uuid.UUID{profile.ID}, 2, true, "operator")
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}

	if !summary.DryRun {
		t.Error("expected dry-run summary")
	}
	if len(summary.Results) != 1 {
		t.Fatalf("expected 1 planned result, got %d", len(summary.Results))
	}
	if summary.Results[0].Action != models.RepairRecomputeRollup {
		t.Errorf("expected planned action recompute_rollup, got %s", summary.Results[0].Action)
	}

	if len(f.repairs.created) != 0 {
		t.Error("dry run must not create an audit record")
	}
	if f.profiles.rollupCount != 0 {
		t.Error("dry run must not write rollups")
	}
	if profile.HasRollup() {
		t.Error("dry run must not modify the target")
	}
}

func TestRepair_PerTargetFailureIsolation(t *testing.T) {
	f := newRepairFixture(t)
	healthy := f.analyzedProfile("fit_jane")
	ghost := uuid.New() // flagged but no longer in the store
	f.checks.missing = []uuid.UUID{healthy.ID, ghost}

	summary, err := f.driver.Repair(testContext(), []uuid.UUID{healthy.ID, ghost}, 2, false, "operator")
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}

	if summary.SuccessfulRepairs != 1 {
		t.Errorf("expected 1 successful repair, got %d", summary.SuccessfulRepairs)
	}
	if summary.FailedRepairs != 1 {
		t.Errorf("expected 1 failed repair, got %d", summary.FailedRepairs)
	}
	if !healthy.HasRollup() {
		t.Error("healthy target should have been repaired despite the other failing")
	}

	if len(f.repairs.created) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(f.repairs.created))
	}
	op := f.repairs.created[0]
	if op.CompletedCount != 1 || op.FailedCount != 1 {
		t.Errorf("audit record counts wrong: completed=%d failed=%d", op.CompletedCount, op.FailedCount)
	}
	if op.Status != models.RepairStatusCompleted {
		t.Errorf("expected status %s, got %s", models.RepairStatusCompleted, op.Status)
	}
	if len(f.events.repairs) != 1 {
		t.Errorf("expected repair-finished event, got %d", len(f.events.repairs))
	}
}

func TestRepair_UnflaggedIncompleteFallsBackToFullRepopulation(t *testing.T) {
	f := newRepairFixture(t)
	// Exists, incomplete, but no consistency check flags it.
	profile := f.profiles.add(&models.Profile{Handle: "fit_jane", FollowerCount: 100})

	summary, err := f.driver.Repair(testContext(), []uuid.UUID{profile.ID}, 1, true, "operator")
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}
	if summary.Results[0].Action != models.RepairFullRepopulation {
		t.Errorf("expected fallback to full_repopulation, got %s", summary.Results[0].Action)
	}
}

func TestRepair_CompleteTargetNeedsNothing(t *testing.T) {
	f := newRepairFixture(t)
	now := time.Now()
	contentType := "fitness"
	profile := f.profiles.add(&models.Profile{
		Handle:              "fit_jane",
		FollowerCount:       100,
		PrimaryContentType:  &contentType,
		ContentDistribution: map[string]float64{"fitness": 1.0},
		ProfileAnalyzedAt:   &now,
	})
	f.posts.stats[profile.ID] = models.PostStats{Total: 5, Analyzed: 5, WithThumbnail: 5}

	summary, err := f.driver.Repair(testContext(), []uuid.UUID{profile.ID}, 1, true, "operator")
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}
	if summary.Results[0].Action != models.RepairNone {
		t.Errorf("expected no action for complete target, got %s", summary.Results[0].Action)
	}
}

func TestScan_ClampsLimitToConfig(t *testing.T) {
	f := newRepairFixture(t)

	if _, err := f.driver.Scan(testContext(), 3, 0, false); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if f.profiles.scanLimit != 25 {
		t.Errorf("expected limit clamped to 25, got %d", f.profiles.scanLimit)
	}

	if _, err := f.driver.Scan(testContext(), 3, 10, false); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if f.profiles.scanLimit != 10 {
		t.Errorf("expected limit 10 passed through, got %d", f.profiles.scanLimit)
	}
}

func TestValidateOne(t *testing.T) {
	f := newRepairFixture(t)
	profile := f.profiles.add(&models.Profile{Handle: "fit_jane", FollowerCount: 100})
	f.posts.stats[profile.ID] = models.PostStats{Total: 2, Analyzed: 1}

	analysis, err := f.driver.ValidateOne(testContext(), "fit_jane")
	if err != nil {
		t.Fatalf("ValidateOne returned error: %v", err)
	}
	if analysis.Criteria.IsComplete() {
		t.Error("expected incomplete analysis")
	}
	if analysis.PostCount != 2 || analysis.AnalyzedPostCount != 1 {
		t.Errorf("unexpected counts: posts=%d analyzed=%d", analysis.PostCount, analysis.AnalyzedPostCount)
	}

	if _, err := f.driver.ValidateOne(testContext(), "nobody"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown handle, got %v", err)
	}
}

func TestDashboard(t *testing.T) {
	f := newRepairFixture(t)
	f.analyzedProfile("fit_jane")

	stats, err := f.driver.Dashboard(testContext())
	if err != nil {
		t.Fatalf("Dashboard returned error: %v", err)
	}
	if stats.TotalProfiles != 1 {
		t.Errorf("expected 1 profile, got %d", stats.TotalProfiles)
	}
	if len(stats.Findings) != 5 {
		t.Errorf("expected 5 findings, got %d", len(stats.Findings))
	}
}

func TestRepair_PanickingTargetDoesNotKillBatch(t *testing.T) {
	f := newRepairFixture(t)
	healthy := f.analyzedProfile("fit_jane")
	victim := f.analyzedProfile("fit_joe")
	f.posts.listPanic = map[uuid.UUID]bool{victim.ID: true}
	f.checks.missing = []uuid.UUID{healthy.ID, victim.ID}

	summary, err := f.driver.Repair(testContext(), []uuid.UUID{healthy.ID, victim.ID}, 2, false, "operator")
	if err != nil {
		t.Fatalf("Repair returned error: %v", err)
	}

	if summary.SuccessfulRepairs != 1 {
		t.Errorf("expected 1 successful repair, got %d", summary.SuccessfulRepairs)
	}
	if summary.FailedRepairs != 1 {
		t.Errorf("expected 1 failed repair, got %d", summary.FailedRepairs)
	}
	if !healthy.HasRollup() {
		t.Error("healthy target should have been repaired despite the other panicking")
	}

	// The audit record must still be finalized.
	if len(f.repairs.created) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(f.repairs.created))
	}
	op := f.repairs.created[0]
	if op.Status != models.RepairStatusCompleted {
		t.Errorf("expected status %s, got %s", models.RepairStatusCompleted, op.Status)
	}
	if op.CompletedCount != 1 || op.FailedCount != 1 {
		t.Errorf("audit record counts wrong: completed=%d failed=%d", op.CompletedCount, op.FailedCount)
	}
}
