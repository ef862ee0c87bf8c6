package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/database"
	"github.com/pulseboard/creator-engine/pkg/models"
)

// RunRepository defines the interface for population run records.
type RunRepository interface {
	Create(ctx context.Context, run *models.PopulationRun) error
	UpdatePhase(ctx context.Context, id uuid.UUID, phase models.RunPhase) error
	Finish(ctx context.Context, run *models.PopulationRun) error
	ListFailedWithOutput(ctx context.Context) ([]*models.PopulationRun, error)
	ListByProfile(ctx context.Context, profileID uuid.UUID, limit int) ([]*models.PopulationRun, error)
}

// runRepository implements RunRepository using PostgreSQL.
type runRepository struct {
	db *database.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *database.DB) RunRepository {
	return &runRepository{db: db}
}

const runColumns = `id, profile_id, handle, phase, success_rate, partial_accepted,
	short_circuited, error, started_at, finished_at`

// Create inserts the run record in its opening phase.
func (r *runRepository) Create(ctx context.Context, run *models.PopulationRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Phase == "" {
		run.Phase = models.PhasePending
	}

	query := `
		INSERT INTO population_runs (id, profile_id, handle, phase, started_at)
		VALUES ($1, $2, $3, $4, $5)`

	q := database.QuerierFrom(ctx, r.db)
	if _, err := q.Exec(ctx, query, run.ID, run.ProfileID, run.Handle, run.Phase, run.StartedAt); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// UpdatePhase advances the run's phase marker.
func (r *runRepository) UpdatePhase(ctx context.Context, id uuid.UUID, phase models.RunPhase) error {
	q := database.QuerierFrom(ctx, r.db)
	result, err := q.Exec(ctx, `UPDATE population_runs SET phase = $2 WHERE id = $1`, id, phase)
	if err != nil {
		return fmt.Errorf("failed to update run phase: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Finish writes the run's terminal state. Failed runs keep their row: the
// consistency engine reads them to find failures that still committed output.
func (r *runRepository) Finish(ctx context.Context, run *models.PopulationRun) error {
	now := time.Now()
	run.FinishedAt = &now

	query := `
		UPDATE population_runs
		SET phase = $2,
		    success_rate = $3,
		    partial_accepted = $4,
		    short_circuited = $5,
		    error = $6,
		    finished_at = $7
		WHERE id = $1`

	q := database.QuerierFrom(ctx, r.db)
	result, err := q.Exec(ctx, query,
		run.ID,
		run.Phase,
		run.SuccessRate,
		run.PartialAccepted,
		run.ShortCircuited,
		run.Error,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ListFailedWithOutput returns failed runs whose target profile nevertheless
// holds committed stage output, the mark of a failure that was silently
// productive.
func (r *runRepository) ListFailedWithOutput(ctx context.Context) ([]*models.PopulationRun, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM population_runs pr
		WHERE pr.phase = $1
		  AND EXISTS (
		        SELECT 1 FROM posts
		        WHERE posts.profile_id = pr.profile_id
		          AND (posts.analyzed_at IS NOT NULL OR posts.cdn_thumbnail_url IS NOT NULL)
		  )
		ORDER BY pr.started_at DESC`, qualifyRunColumns("pr"))

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query, models.PhaseFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListByProfile returns a profile's runs, newest first.
func (r *runRepository) ListByProfile(ctx context.Context, profileID uuid.UUID, limit int) ([]*models.PopulationRun, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM population_runs
		WHERE profile_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, runColumns)

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func qualifyRunColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.profile_id, %[1]s.handle, %[1]s.phase,
	%[1]s.success_rate, %[1]s.partial_accepted, %[1]s.short_circuited,
	%[1]s.error, %[1]s.started_at, %[1]s.finished_at`, alias)
}

func collectRuns(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*models.PopulationRun, error) {
	var runs []*models.PopulationRun
	for rows.Next() {
		var run models.PopulationRun
		err := rows.Scan(
			&run.ID,
			&run.ProfileID,
			&run.Handle,
			&run.Phase,
			&run.SuccessRate,
			&run.PartialAccepted,
			&run.ShortCircuited,
			&run.Error,
			&run.StartedAt,
			&run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// Ensure runRepository implements RunRepository at compile time.
var _ RunRepository = (*runRepository)(nil)
