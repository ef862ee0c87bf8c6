package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pulseboard/creator-engine/pkg/database"
)

// ConsistencyRepository holds the read-only detection queries behind the
// consistency checks. Each query is set-based over the whole store; none of
// them write anything.
type ConsistencyRepository interface {
	// ProfilesWithPartialPosts finds profiles owning at least one analyzed
	// post and at least one unanalyzed post.
	ProfilesWithPartialPosts(ctx context.Context) ([]uuid.UUID, error)
	// ProfilesMissingRollup finds profiles with analyzed posts but no rollup.
	ProfilesMissingRollup(ctx context.Context) ([]uuid.UUID, error)
	// ProfilesWithStaleRollup finds profiles whose rollup predates the newest
	// per-post analysis, meaning the aggregate no longer reflects its inputs.
	ProfilesWithStaleRollup(ctx context.Context) ([]uuid.UUID, error)
}

// consistencyRepository implements ConsistencyRepository using PostgreSQL.
type consistencyRepository struct {
	db *database.DB
}

// NewConsistencyRepository creates a new consistency repository.
func NewConsistencyRepository(db *database.DB) ConsistencyRepository {
	return &consistencyRepository{db: db}
}

func (r *consistencyRepository) ProfilesWithPartialPosts(ctx context.Context) ([]uuid.UUID, error) {
	// Analysis stopped partway through this profile's posts: some carry
	// analyzed_at, some don't. A profile with no analysis at all is merely
	// unanalyzed, not inconsistent.
	query := `
		SELECT profile_id
		FROM posts
		GROUP BY profile_id
		HAVING count(*) FILTER (WHERE analyzed_at IS NOT NULL) > 0
		   AND count(*) FILTER (WHERE analyzed_at IS NULL) > 0`

	return r.queryIDs(ctx, query)
}

func (r *consistencyRepository) ProfilesMissingRollup(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT p.id
		FROM profiles p
		WHERE p.profile_analyzed_at IS NULL
		  AND EXISTS (
		        SELECT 1 FROM posts
		        WHERE posts.profile_id = p.id AND posts.analyzed_at IS NOT NULL
		  )`

	return r.queryIDs(ctx, query)
}

func (r *consistencyRepository) ProfilesWithStaleRollup(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT p.id
		FROM profiles p
		WHERE p.profile_analyzed_at IS NOT NULL
		  AND p.profile_analyzed_at < (
		        SELECT max(posts.analyzed_at) FROM posts
		        WHERE posts.profile_id = p.id
		  )`

	return r.queryIDs(ctx, query)
}

func (r *consistencyRepository) queryIDs(ctx context.Context, query string) ([]uuid.UUID, error) {
	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to run detection query: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile ids: %w", err)
	}

	return ids, nil
}

// Ensure consistencyRepository implements ConsistencyRepository at compile time.
var _ ConsistencyRepository = (*consistencyRepository)(nil)
