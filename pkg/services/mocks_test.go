package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pulseboard/creator-engine/pkg/database"
	"github.com/pulseboard/creator-engine/pkg/models"
	"github.com/pulseboard/creator-engine/pkg/repositories"
	"github.com/pulseboard/creator-engine/pkg/stages"
)

// fakeQuerier satisfies database.Querier so tests can pre-seed the context
// and make InAmbientTx run its body inline instead of opening a real
// transaction. The repositories in these tests are mocks, so none of the
// methods are ever reached.
type fakeQuerier struct{}

func (fakeQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }

// testContext returns a context that already carries a querier.
func testContext() context.Context {
	return database.WithQuerier(context.Background(), fakeQuerier{})
}

func newUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

// mockProfileRepo is an in-memory repositories.ProfileRepository.
type mockProfileRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Profile

	upsertCount int
	rollupCount int

	// skipRollupStamp simulates a rollup write that reports success without
	// actually landing, for verification-mismatch coverage.
	skipRollupStamp bool

	scanLimit  int
	scanResult []*models.CompletenessAnalysis
}

var _ repositories.ProfileRepository = (*mockProfileRepo)(nil)

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{byID: make(map[uuid.UUID]*models.Profile)}
}

func (m *mockProfileRepo) add(p *models.Profile) *models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.byID[p.ID] = p
	return p
}

func (m *mockProfileRepo) Upsert(_ context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCount++
	for _, existing := range m.byID {
		if existing.Handle == profile.Handle {
			existing.FullName = profile.FullName
			existing.Biography = profile.Biography
			existing.FollowerCount = profile.FollowerCount
			existing.PostCount = profile.PostCount
			*profile = *existing
			return nil
		}
	}
	profile.ID = uuid.New()
	profile.CreatedAt = time.Now()
	stored := *profile
	m.byID[profile.ID] = &stored
	return nil
}

func (m *mockProfileRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id], nil
}

func (m *mockProfileRepo) GetByHandle(_ context.Context, handle string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.Handle == handle {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockProfileRepo) UpdateRollup(_ context.Context, id uuid.UUID, rollup *models.Rollup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollupCount++
	p, ok := m.byID[id]
	if !ok {
		return nil
	}
	p.PrimaryContentType = &rollup.PrimaryContentType
	p.ContentDistribution = rollup.ContentDistribution
	p.AvgSentimentScore = &rollup.AvgSentimentScore
	p.LanguageDistribution = rollup.LanguageDistribution
	p.ContentQualityScore = &rollup.ContentQualityScore
	if !m.skipRollupStamp {
		// The real repository stamps from the database clock.
		at := time.Now()
		p.ProfileAnalyzedAt = &at
	}
	return nil
}

func (m *mockProfileRepo) ClearRollup(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		p.ProfileAnalyzedAt = nil
		p.PrimaryContentType = nil
		p.ContentDistribution = nil
	}
	return nil
}

func (m *mockProfileRepo) ListIncomplete(context.Context, int) ([]*models.Profile, error) {
	return nil, nil
}

func (m *mockProfileRepo) ScanCompleteness(_ context.Context, _, limit int, _ bool) ([]*models.CompletenessAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanLimit = limit
	return m.scanResult, nil
}

func (m *mockProfileRepo) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID), nil
}

func (m *mockProfileRepo) CountWithRollup(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.byID {
		if p.HasRollup() {
			n++
		}
	}
	return n, nil
}

// mockPostRepo is an in-memory repositories.PostRepository. Stats are canned
// per profile rather than derived, so tests control completeness directly.
type mockPostRepo struct {
	mu        sync.Mutex
	byProfile map[uuid.UUID][]*models.Post
	stats     map[uuid.UUID]models.PostStats

	applied map[models.StageKind]int

	// Tracks whether two ApplyStageOutput calls ever ran at the same time.
	applyInFlight int32
	applyOverlap  int32

	listPanic map[uuid.UUID]bool

	orphanCount   int
	orphanIDs     []uuid.UUID
	deletedOrphan int64
}

var _ repositories.PostRepository = (*mockPostRepo)(nil)

func newMockPostRepo() *mockPostRepo {
	return &mockPostRepo{
		byProfile: make(map[uuid.UUID][]*models.Post),
		stats:     make(map[uuid.UUID]models.PostStats),
		applied:   make(map[models.StageKind]int),
	}
}

func (m *mockPostRepo) BulkUpsert(_ context.Context, profileID uuid.UUID, posts []models.PostData) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]*models.Post, 0, len(posts))
	for _, d := range posts {
		p := &models.Post{
			ID:           uuid.New(),
			ProfileID:    profileID,
			ExternalID:   d.ExternalID,
			Caption:      d.Caption,
			LikeCount:    d.LikeCount,
			CommentCount: d.CommentCount,
			ViewCount:    d.ViewCount,
			ThumbnailURL: d.ThumbnailURL,
			PostedAt:     d.PostedAt,
		}
		stored = append(stored, p)
	}
	m.byProfile[profileID] = append(m.byProfile[profileID], stored...)
	return stored, nil
}

func (m *mockPostRepo) ApplyStageOutput(_ context.Context, kind models.StageKind, _ map[uuid.UUID]*models.PostStageOutput) error {
	if atomic.AddInt32(&m.applyInFlight, 1) > 1 {
		atomic.StoreInt32(&m.applyOverlap, 1)
	}
	time.Sleep(2 * time.Millisecond)
	atomic.AddInt32(&m.applyInFlight, -1)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied[kind]++
	return nil
}

func (m *mockPostRepo) sawConcurrentWrites() bool {
	return atomic.LoadInt32(&m.applyOverlap) == 1
}

func (m *mockPostRepo) appliedCount(kind models.StageKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[kind]
}

func (m *mockPostRepo) ListByProfile(_ context.Context, profileID uuid.UUID) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listPanic[profileID] {
		panic("post listing blew up")
	}
	return m.byProfile[profileID], nil
}

func (m *mockPostRepo) Stats(_ context.Context, profileID uuid.UUID) (*models.PostStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[profileID]
	return &s, nil
}

func (m *mockPostRepo) CountOrphaned(context.Context) (int, []uuid.UUID, error) {
	return m.orphanCount, m.orphanIDs, nil
}

func (m *mockPostRepo) DeleteOrphaned(context.Context) (int64, error) {
	return m.deletedOrphan, nil
}

func (m *mockPostRepo) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, posts := range m.byProfile {
		n += len(posts)
	}
	return n, nil
}

func (m *mockPostRepo) CountAnalyzed(context.Context) (int, error) { return 0, nil }

// mockRunRepo is an in-memory repositories.RunRepository.
type mockRunRepo struct {
	mu       sync.Mutex
	created  []*models.PopulationRun
	phases   []models.RunPhase
	finished []*models.PopulationRun

	failedWithOutput []*models.PopulationRun
}

var _ repositories.RunRepository = (*mockRunRepo)(nil)

func newMockRunRepo() *mockRunRepo {
	return &mockRunRepo{}
}

func (m *mockRunRepo) Create(_ context.Context, run *models.PopulationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.StartedAt = time.Now()
	m.created = append(m.created, run)
	return nil
}

func (m *mockRunRepo) UpdatePhase(_ context.Context, _ uuid.UUID, phase models.RunPhase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, phase)
	return nil
}

func (m *mockRunRepo) Finish(_ context.Context, run *models.PopulationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, run)
	return nil
}

func (m *mockRunRepo) ListFailedWithOutput(context.Context) ([]*models.PopulationRun, error) {
	return m.failedWithOutput, nil
}

func (m *mockRunRepo) ListByProfile(context.Context, uuid.UUID, int) ([]*models.PopulationRun, error) {
	return nil, nil
}

// mockConsistencyRepo returns canned ID sets per check.
type mockConsistencyRepo struct {
	partial []uuid.UUID
	missing []uuid.UUID
	stale   []uuid.UUID
}

var _ repositories.ConsistencyRepository = (*mockConsistencyRepo)(nil)

func (m *mockConsistencyRepo) ProfilesWithPartialPosts(context.Context) ([]uuid.UUID, error) {
	return m.partial, nil
}

func (m *mockConsistencyRepo) ProfilesMissingRollup(context.Context) ([]uuid.UUID, error) {
	return m.missing, nil
}

func (m *mockConsistencyRepo) ProfilesWithStaleRollup(context.Context) ([]uuid.UUID, error) {
	return m.stale, nil
}

// mockRepairRepo is an in-memory repositories.RepairRepository.
type mockRepairRepo struct {
	mu        sync.Mutex
	created   []*models.RepairOperation
	completed []*models.RepairOperation
}

var _ repositories.RepairRepository = (*mockRepairRepo)(nil)

func (m *mockRepairRepo) Create(_ context.Context, op *models.RepairOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	m.created = append(m.created, op)
	return nil
}

func (m *mockRepairRepo) Get(_ context.Context, id uuid.UUID) (*models.RepairOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.created {
		if op.ID == id {
			return op, nil
		}
	}
	return nil, nil
}

func (m *mockRepairRepo) Complete(_ context.Context, id uuid.UUID, completed, failed int, status models.RepairStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.created {
		if op.ID == id {
			op.CompletedCount = completed
			op.FailedCount = failed
			op.Status = status
			m.completed = append(m.completed, op)
			return nil
		}
	}
	return nil
}

func (m *mockRepairRepo) ListRecent(context.Context, int) ([]*models.RepairOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, nil
}

// fakeFetcher is a scripted fetcher.Client.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	profile *models.ProfileData
	posts   []models.PostData
	err     error
}

func (f *fakeFetcher) FetchProfile(_ context.Context, _ string) (*models.ProfileData, []models.PostData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.profile, f.posts, nil
}

func (f *fakeFetcher) DownloadThumbnail(_ context.Context, _ string) ([]byte, error) {
	return []byte("thumbnail-bytes"), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stubStage is a scripted analysis stage.
type stubStage struct {
	kind models.StageKind
	err  error

	mu         sync.Mutex
	inputPosts []stages.PostInput
}

func (s *stubStage) Kind() models.StageKind { return s.kind }

func (s *stubStage) Analyze(_ context.Context, input *stages.Input) (*models.StageResult, error) {
	s.mu.Lock()
	s.inputPosts = input.Posts
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	if s.kind == models.StageRollup {
		return &models.StageResult{
			Kind: s.kind,
			Rollup: &models.Rollup{
				PrimaryContentType:  "fitness",
				ContentDistribution: map[string]float64{"fitness": 1.0},
				ComputedAt:          time.Now(),
			},
		}, nil
	}

	outputs := make(map[uuid.UUID]*models.PostStageOutput, len(input.Posts))
	for _, p := range input.Posts {
		outputs[p.ID] = &models.PostStageOutput{}
	}
	return &models.StageResult{Kind: s.kind, Posts: outputs}, nil
}

func (s *stubStage) seenPosts() []stages.PostInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputPosts
}

// stubRegistry builds a full registry of stub stages, failing the given kinds
// with a permanent error so retry loops terminate immediately.
func stubRegistry(failing map[models.StageKind]error) (*stages.Registry, map[models.StageKind]*stubStage) {
	byKind := make(map[models.StageKind]*stubStage, len(models.ValidStageKinds))
	all := make([]stages.Stage, 0, len(models.ValidStageKinds))
	for _, kind := range models.ValidStageKinds {
		s := &stubStage{kind: kind, err: failing[kind]}
		byKind[kind] = s
		all = append(all, s)
	}
	registry, err := stages.NewRegistry(all...)
	if err != nil {
		panic(err)
	}
	return registry, byKind
}

// recorderEmitter counts emitted events.
type recorderEmitter struct {
	mu            sync.Mutex
	stageAttempts int
	runsFinished  []*models.PopulationRun
	grants        int
	rejections    int
	repairs       []*models.RepairOperation
}

var _ EventEmitter = (*recorderEmitter)(nil)

func (r *recorderEmitter) StageAttempt(uuid.UUID, models.StageKind, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageAttempts++
}

func (r *recorderEmitter) RunFinished(run *models.PopulationRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runsFinished = append(r.runsFinished, run)
}

func (r *recorderEmitter) GrantCreated(uuid.UUID, uuid.UUID, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants++
}

func (r *recorderEmitter) GateRejected(uuid.UUID, string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections++
}

func (r *recorderEmitter) RepairFinished(op *models.RepairOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repairs = append(r.repairs, op)
}
