package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulseboard/creator-engine/pkg/apperrors"
	"github.com/pulseboard/creator-engine/pkg/database"
	"github.com/pulseboard/creator-engine/pkg/models"
)

// ProfileRepository defines the interface for profile data access.
type ProfileRepository interface {
	Upsert(ctx context.Context, profile *models.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetByHandle(ctx context.Context, handle string) (*models.Profile, error)
	UpdateRollup(ctx context.Context, id uuid.UUID, rollup *models.Rollup) error
	ClearRollup(ctx context.Context, id uuid.UUID) error
	ListIncomplete(ctx context.Context, limit int) ([]*models.Profile, error)
	ScanCompleteness(ctx context.Context, minPosts, limit int, includeComplete bool) ([]*models.CompletenessAnalysis, error)
	Count(ctx context.Context) (int, error)
	CountWithRollup(ctx context.Context) (int, error)
}

// profileRepository implements ProfileRepository using PostgreSQL.
type profileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *database.DB) ProfileRepository {
	return &profileRepository{db: db}
}

const profileColumns = `id, handle, full_name, biography, follower_count, post_count,
	primary_content_type, content_distribution, avg_sentiment_score,
	language_distribution, content_quality_score, profile_analyzed_at,
	created_at, updated_at`

// Upsert inserts the profile keyed by handle, or refreshes its basic fields on
// conflict. Rollup columns are never touched here so a re-fetch cannot wipe a
// prior analysis.
func (r *profileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	now := time.Now()
	profile.UpdatedAt = now
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}

	query := `
		INSERT INTO profiles (id, handle, full_name, biography, follower_count, post_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (handle) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    biography = EXCLUDED.biography,
		    follower_count = EXCLUDED.follower_count,
		    post_count = EXCLUDED.post_count,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	q := database.QuerierFrom(ctx, r.db)
	err := q.QueryRow(ctx, query,
		profile.ID,
		profile.Handle,
		profile.FullName,
		profile.Biography,
		profile.FollowerCount,
		profile.PostCount,
		profile.CreatedAt,
		profile.UpdatedAt,
	).Scan(&profile.ID, &profile.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	return nil
}

// GetByID retrieves a profile by ID. Returns (nil, nil) when absent.
func (r *profileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM profiles WHERE id = $1`, profileColumns)

	q := database.QuerierFrom(ctx, r.db)
	return scanProfile(q.QueryRow(ctx, query, id))
}

// GetByHandle retrieves a profile by handle. Returns (nil, nil) when absent.
func (r *profileRepository) GetByHandle(ctx context.Context, handle string) (*models.Profile, error) {
	query := fmt.Sprintf(`SELECT %s FROM profiles WHERE handle = $1`, profileColumns)

	q := database.QuerierFrom(ctx, r.db)
	return scanProfile(q.QueryRow(ctx, query, handle))
}

// UpdateRollup writes the rollup columns and stamps profile_analyzed_at from
// the database clock, the same clock that stamps posts.analyzed_at, so
// staleness comparisons never see app/DB skew. Only rollup columns move;
// basic profile fields are owned by Upsert.
func (r *profileRepository) UpdateRollup(ctx context.Context, id uuid.UUID, rollup *models.Rollup) error {
	contentDist, err := json.Marshal(rollup.ContentDistribution)
	if err != nil {
		return fmt.Errorf("failed to marshal content distribution: %w", err)
	}
	langDist, err := json.Marshal(rollup.LanguageDistribution)
	if err != nil {
		return fmt.Errorf("failed to marshal language distribution: %w", err)
	}

	query := `
		UPDATE profiles
		SET primary_content_type = $2,
		    content_distribution = $3,
		    avg_sentiment_score = $4,
		    language_distribution = $5,
		    content_quality_score = $6,
		    profile_analyzed_at = now(),
		    updated_at = now()
		WHERE id = $1`

	q := database.QuerierFrom(ctx, r.db)
	result, err := q.Exec(ctx, query,
		id,
		rollup.PrimaryContentType,
		contentDist,
		rollup.AvgSentimentScore,
		langDist,
		rollup.ContentQualityScore,
	)
	if err != nil {
		return fmt.Errorf("failed to update rollup: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ClearRollup nulls every rollup column, returning the profile to the
// not-yet-analyzed state.
func (r *profileRepository) ClearRollup(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE profiles
		SET primary_content_type = NULL,
		    content_distribution = NULL,
		    avg_sentiment_score = NULL,
		    language_distribution = NULL,
		    content_quality_score = NULL,
		    profile_analyzed_at = NULL,
		    updated_at = now()
		WHERE id = $1`

	q := database.QuerierFrom(ctx, r.db)
	result, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to clear rollup: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ListIncomplete returns profiles that are obviously short of complete:
// missing a rollup, or with fewer analyzed posts than stored posts. Ordered
// worst-first (no rollup before stale rollup, more missing posts first) so a
// bounded repair batch spends its slots on the most damaged records.
func (r *profileRepository) ListIncomplete(ctx context.Context, limit int) ([]*models.Profile, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM profiles p
		WHERE p.profile_analyzed_at IS NULL
		   OR EXISTS (
		        SELECT 1 FROM posts
		        WHERE posts.profile_id = p.id AND posts.analyzed_at IS NULL
		   )
		ORDER BY (p.profile_analyzed_at IS NULL) DESC,
		         (SELECT count(*) FROM posts
		          WHERE posts.profile_id = p.id AND posts.analyzed_at IS NULL) DESC,
		         p.updated_at ASC
		LIMIT $1`, profileColumnsQualified("p"))

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfileRow(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}

	return profiles, nil
}

// ScanCompleteness scores the six completeness criteria for every profile in
// one set-based query, ordered worst-first. The criteria are evaluated in SQL
// against committed rows, never from application-side state, so the scan
// always reflects the latest commit.
func (r *profileRepository) ScanCompleteness(ctx context.Context, minPosts, limit int, includeComplete bool) ([]*models.CompletenessAnalysis, error) {
	query := `
		WITH stats AS (
			SELECT profile_id,
			       count(*) AS total,
			       count(*) FILTER (WHERE analyzed_at IS NOT NULL) AS analyzed,
			       count(*) FILTER (WHERE cdn_thumbnail_url IS NOT NULL) AS with_thumbnail
			FROM posts
			GROUP BY profile_id
		)
		SELECT p.id,
		       p.handle,
		       (p.handle <> '' AND p.follower_count > 0) AS has_basic_data,
		       COALESCE(s.total, 0) >= $1 AS has_minimum_posts,
		       COALESCE(s.analyzed, 0) >= $1 AS has_analyzed_posts,
		       p.profile_analyzed_at IS NOT NULL AS has_profile_rollup,
		       COALESCE(s.with_thumbnail, 0) >= $1 AS has_cdn_assets,
		       (p.primary_content_type IS NOT NULL AND p.content_distribution IS NOT NULL) AS has_rollup_fields,
		       COALESCE(s.total, 0),
		       COALESCE(s.analyzed, 0),
		       COALESCE(s.with_thumbnail, 0)
		FROM profiles p
		LEFT JOIN stats s ON s.profile_id = p.id
		ORDER BY (
			(p.handle <> '' AND p.follower_count > 0)::int +
			(COALESCE(s.total, 0) >= $1)::int +
			(COALESCE(s.analyzed, 0) >= $1)::int +
			(p.profile_analyzed_at IS NOT NULL)::int +
			(COALESCE(s.with_thumbnail, 0) >= $1)::int +
			(p.primary_content_type IS NOT NULL AND p.content_distribution IS NOT NULL)::int
		) ASC, p.updated_at ASC
		LIMIT $2`

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query, minPosts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan completeness: %w", err)
	}
	defer rows.Close()

	var analyses []*models.CompletenessAnalysis
	for rows.Next() {
		var a models.CompletenessAnalysis
		err := rows.Scan(
			&a.ProfileID,
			&a.Handle,
			&a.Criteria.HasBasicData,
			&a.Criteria.HasMinimumPosts,
			&a.Criteria.HasAnalyzedPosts,
			&a.Criteria.HasProfileRollup,
			&a.Criteria.HasCDNAssets,
			&a.Criteria.HasRollupFields,
			&a.PostCount,
			&a.AnalyzedPostCount,
			&a.ThumbnailCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completeness row: %w", err)
		}
		a.Score = a.Criteria.Score()
		a.MissingCriteria = a.Criteria.Missing()
		if !includeComplete && a.Criteria.IsComplete() {
			continue
		}
		analyses = append(analyses, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completeness rows: %w", err)
	}

	return analyses, nil
}

// Count returns the total number of stored profiles.
func (r *profileRepository) Count(ctx context.Context) (int, error) {
	q := database.QuerierFrom(ctx, r.db)

	var count int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM profiles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}

// CountWithRollup returns the number of profiles carrying a rollup.
func (r *profileRepository) CountWithRollup(ctx context.Context) (int, error) {
	q := database.QuerierFrom(ctx, r.db)

	var count int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM profiles WHERE profile_analyzed_at IS NOT NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count analyzed profiles: %w", err)
	}
	return count, nil
}

func profileColumnsQualified(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.handle, %[1]s.full_name, %[1]s.biography,
	%[1]s.follower_count, %[1]s.post_count, %[1]s.primary_content_type,
	%[1]s.content_distribution, %[1]s.avg_sentiment_score, %[1]s.language_distribution,
	%[1]s.content_quality_score, %[1]s.profile_analyzed_at, %[1]s.created_at, %[1]s.updated_at`, alias)
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	p, err := scanProfileRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanProfileRow(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	var contentDist, langDist []byte

	err := row.Scan(
		&p.ID,
		&p.Handle,
		&p.FullName,
		&p.Biography,
		&p.FollowerCount,
		&p.PostCount,
		&p.PrimaryContentType,
		&contentDist,
		&p.AvgSentimentScore,
		&langDist,
		&p.ContentQualityScore,
		&p.ProfileAnalyzedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	if contentDist != nil {
		if err := json.Unmarshal(contentDist, &p.ContentDistribution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content distribution: %w", err)
		}
	}
	if langDist != nil {
		if err := json.Unmarshal(langDist, &p.LanguageDistribution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal language distribution: %w", err)
		}
	}

	return &p, nil
}

// Ensure profileRepository implements ProfileRepository at compile time.
var _ ProfileRepository = (*profileRepository)(nil)
