package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulseboard/creator-engine/pkg/database"
	"github.com/pulseboard/creator-engine/pkg/models"
)

// PostRepository defines the interface for post data access.
type PostRepository interface {
	BulkUpsert(ctx context.Context, profileID uuid.UUID, posts []models.PostData) ([]*models.Post, error)
	ApplyStageOutput(ctx context.Context, kind models.StageKind, outputs map[uuid.UUID]*models.PostStageOutput) error
	ListByProfile(ctx context.Context, profileID uuid.UUID) ([]*models.Post, error)
	Stats(ctx context.Context, profileID uuid.UUID) (*models.PostStats, error)
	CountOrphaned(ctx context.Context) (int, []uuid.UUID, error)
	DeleteOrphaned(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int, error)
	CountAnalyzed(ctx context.Context) (int, error)
}

// postRepository implements PostRepository using PostgreSQL.
type postRepository struct {
	db *database.DB
}

// NewPostRepository creates a new post repository.
func NewPostRepository(db *database.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, profile_id, external_id, caption, like_count, comment_count, view_count,
	category, category_confidence, sentiment, sentiment_score, language_code, raw_analysis,
	cdn_thumbnail_url, thumbnail_url, analyzed_at, posted_at, created_at, updated_at`

// BulkUpsert inserts the fetched posts keyed by (profile_id, external_id),
// refreshing engagement counts on conflict. Analysis columns are never
// touched, so a re-fetch keeps whatever stage output already committed. The
// returned posts carry the store's IDs, which is what the stages key their
// output by.
func (r *postRepository) BulkUpsert(ctx context.Context, profileID uuid.UUID, posts []models.PostData) ([]*models.Post, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	query := `
		INSERT INTO posts (id, profile_id, external_id, caption, like_count, comment_count,
		                   view_count, thumbnail_url, posted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (profile_id, external_id) DO UPDATE
		SET caption = EXCLUDED.caption,
		    like_count = EXCLUDED.like_count,
		    comment_count = EXCLUDED.comment_count,
		    view_count = EXCLUDED.view_count,
		    thumbnail_url = EXCLUDED.thumbnail_url,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + postColumns

	q := database.QuerierFrom(ctx, r.db)
	now := time.Now()

	stored := make([]*models.Post, 0, len(posts))
	for _, pd := range posts {
		row := q.QueryRow(ctx, query,
			uuid.New(),
			profileID,
			pd.ExternalID,
			pd.Caption,
			pd.LikeCount,
			pd.CommentCount,
			pd.ViewCount,
			pd.ThumbnailURL,
			pd.PostedAt,
			now,
		)
		p, err := scanPostRow(row)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert post %s: %w", pd.ExternalID, err)
		}
		stored = append(stored, p)
	}

	return stored, nil
}

// ApplyStageOutput writes one stage's output for a batch of posts. Each stage
// kind updates only the columns it owns, and raw payloads merge into
// raw_analysis under a per-stage key, so concurrently committing stages
// never clobber each other. analyzed_at is derived in the same statement: it
// is stamped exactly when all mandatory analysis columns are present, and
// never before.
func (r *postRepository) ApplyStageOutput(ctx context.Context, kind models.StageKind, outputs map[uuid.UUID]*models.PostStageOutput) error {
	if len(outputs) == 0 {
		return nil
	}

	var query string
	switch kind {
	case models.StageCategory:
		query = `
			UPDATE posts
			SET category = $2,
			    category_confidence = $3,
			    raw_analysis = CASE
			        WHEN $4::jsonb IS NULL THEN raw_analysis
			        ELSE COALESCE(raw_analysis, '{}'::jsonb) || jsonb_build_object('category', $4::jsonb)
			    END,
			    analyzed_at = CASE
			        WHEN $2::text IS NOT NULL AND sentiment IS NOT NULL AND language_code IS NOT NULL
			        THEN COALESCE(analyzed_at, now())
			        ELSE analyzed_at
			    END,
			    updated_at = now()
			WHERE id = $1`
	case models.StageSentiment:
		query = `
			UPDATE posts
			SET sentiment = $2,
			    sentiment_score = $3,
			    raw_analysis = CASE
			        WHEN $4::jsonb IS NULL THEN raw_analysis
			        ELSE COALESCE(raw_analysis, '{}'::jsonb) || jsonb_build_object('sentiment', $4::jsonb)
			    END,
			    analyzed_at = CASE
			        WHEN category IS NOT NULL AND $2::text IS NOT NULL AND language_code IS NOT NULL
			        THEN COALESCE(analyzed_at, now())
			        ELSE analyzed_at
			    END,
			    updated_at = now()
			WHERE id = $1`
	case models.StageLanguage:
		query = `
			UPDATE posts
			SET language_code = $2,
			    raw_analysis = CASE
			        WHEN $3::jsonb IS NULL THEN raw_analysis
			        ELSE COALESCE(raw_analysis, '{}'::jsonb) || jsonb_build_object('language', $3::jsonb)
			    END,
			    analyzed_at = CASE
			        WHEN category IS NOT NULL AND sentiment IS NOT NULL AND $2::text IS NOT NULL
			        THEN COALESCE(analyzed_at, now())
			        ELSE analyzed_at
			    END,
			    updated_at = now()
			WHERE id = $1`
	case models.StageThumbnail:
		query = `
			UPDATE posts
			SET cdn_thumbnail_url = $2,
			    updated_at = now()
			WHERE id = $1`
	default:
		return fmt.Errorf("stage %q does not produce per-post output", kind)
	}

	q := database.QuerierFrom(ctx, r.db)
	for postID, out := range outputs {
		var args []any
		switch kind {
		case models.StageCategory:
			args = []any{postID, out.Category, out.CategoryConfidence, []byte(out.Raw)}
		case models.StageSentiment:
			args = []any{postID, out.Sentiment, out.SentimentScore, []byte(out.Raw)}
		case models.StageLanguage:
			args = []any{postID, out.LanguageCode, []byte(out.Raw)}
		case models.StageThumbnail:
			args = []any{postID, out.CDNThumbnailURL}
		}

		if _, err := q.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to apply %s output to post %s: %w", kind, postID, err)
		}
	}

	return nil
}

// ListByProfile returns every stored post for a profile, newest first.
func (r *postRepository) ListByProfile(ctx context.Context, profileID uuid.UUID) ([]*models.Post, error) {
	query := fmt.Sprintf(`SELECT %s FROM posts WHERE profile_id = $1 ORDER BY posted_at DESC`, postColumns)

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		p, err := scanPostRow(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, nil
}

// Stats counts a profile's posts directly from the store. The completeness
// evaluation trusts these counts over anything a run reported about itself.
func (r *postRepository) Stats(ctx context.Context, profileID uuid.UUID) (*models.PostStats, error) {
	query := `
		SELECT count(*),
		       count(*) FILTER (WHERE analyzed_at IS NOT NULL),
		       count(*) FILTER (WHERE cdn_thumbnail_url IS NOT NULL)
		FROM posts
		WHERE profile_id = $1`

	q := database.QuerierFrom(ctx, r.db)

	var stats models.PostStats
	err := q.QueryRow(ctx, query, profileID).Scan(&stats.Total, &stats.Analyzed, &stats.WithThumbnail)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	return &stats, nil
}

// CountOrphaned finds posts whose profile_id no longer resolves to a profile
// row. It returns the distinct affected profile IDs so a finding can name
// them.
func (r *postRepository) CountOrphaned(ctx context.Context) (int, []uuid.UUID, error) {
	query := `
		SELECT posts.profile_id, count(*)
		FROM posts
		LEFT JOIN profiles ON profiles.id = posts.profile_id
		WHERE profiles.id IS NULL
		GROUP BY posts.profile_id`

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count orphaned posts: %w", err)
	}
	defer rows.Close()

	var total int
	var profileIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return 0, nil, fmt.Errorf("failed to scan orphan row: %w", err)
		}
		total += n
		profileIDs = append(profileIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to iterate orphan rows: %w", err)
	}

	return total, profileIDs, nil
}

// DeleteOrphaned removes posts with no parent profile row and reports how
// many were deleted.
func (r *postRepository) DeleteOrphaned(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM posts
		WHERE NOT EXISTS (SELECT 1 FROM profiles WHERE profiles.id = posts.profile_id)`

	q := database.QuerierFrom(ctx, r.db)
	result, err := q.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned posts: %w", err)
	}

	return result.RowsAffected(), nil
}

// Count returns the total number of stored posts.
func (r *postRepository) Count(ctx context.Context) (int, error) {
	q := database.QuerierFrom(ctx, r.db)

	var count int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM posts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

// CountAnalyzed returns the number of posts carrying their mandatory analysis.
func (r *postRepository) CountAnalyzed(ctx context.Context) (int, error) {
	q := database.QuerierFrom(ctx, r.db)

	var count int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM posts WHERE analyzed_at IS NOT NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count analyzed posts: %w", err)
	}
	return count, nil
}

func scanPostRow(row pgx.Row) (*models.Post, error) {
	var p models.Post
	var postedAt *time.Time

	err := row.Scan(
		&p.ID,
		&p.ProfileID,
		&p.ExternalID,
		&p.Caption,
		&p.LikeCount,
		&p.CommentCount,
		&p.ViewCount,
		&p.Category,
		&p.CategoryConfidence,
		&p.Sentiment,
		&p.SentimentScore,
		&p.LanguageCode,
		&p.RawAnalysis,
		&p.CDNThumbnailURL,
		&p.ThumbnailURL,
		&p.AnalyzedAt,
		&postedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}

	if postedAt != nil {
		p.PostedAt = *postedAt
	}

	return &p, nil
}

// Ensure postRepository implements PostRepository at compile time.
var _ PostRepository = (*postRepository)(nil)
