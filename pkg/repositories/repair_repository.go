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

// RepairRepository defines the interface for repair operation audit records.
type RepairRepository interface {
	Create(ctx context.Context, op *models.RepairOperation) error
	Get(ctx context.Context, id uuid.UUID) (*models.RepairOperation, error)
	Complete(ctx context.Context, id uuid.UUID, completed, failed int, status models.RepairStatus) error
	ListRecent(ctx context.Context, limit int) ([]*models.RepairOperation, error)
}

// repairRepository implements RepairRepository using PostgreSQL.
type repairRepository struct {
	db *database.DB
}

// NewRepairRepository creates a new repair repository.
func NewRepairRepository(db *database.DB) RepairRepository {
	return &repairRepository{db: db}
}

const repairColumns = `id, started_by, total_targets, completed_count, failed_count,
	status, dry_run, started_at, completed_at, created_at, updated_at`

// Create inserts the audit record at batch start.
func (r *repairRepository) Create(ctx context.Context, op *models.RepairOperation) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	now := time.Now()
	op.CreatedAt = now
	op.UpdatedAt = now
	if op.StartedAt.IsZero() {
		op.StartedAt = now
	}
	if op.Status == "" {
		op.Status = models.RepairStatusProcessing
	}

	query := `
		INSERT INTO repair_operations (id, started_by, total_targets, completed_count,
		                               failed_count, status, dry_run, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $5, $6, $7, $7)`

	q := database.QuerierFrom(ctx, r.db)
	_, err := q.Exec(ctx, query,
		op.ID, op.StartedBy, op.TotalTargets, op.Status, op.DryRun, op.StartedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create repair operation: %w", err)
	}

	return nil
}

// Get retrieves a repair operation by ID.
func (r *repairRepository) Get(ctx context.Context, id uuid.UUID) (*models.RepairOperation, error) {
	query := fmt.Sprintf(`SELECT %s FROM repair_operations WHERE id = $1`, repairColumns)

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get repair operation: %w", err)
	}
	defer rows.Close()

	ops, err := collectRepairOps(rows)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return ops[0], nil
}

// Complete writes the batch's terminal counters and status. Only the owning
// batch calls this, once.
func (r *repairRepository) Complete(ctx context.Context, id uuid.UUID, completed, failed int, status models.RepairStatus) error {
	query := `
		UPDATE repair_operations
		SET completed_count = $2,
		    failed_count = $3,
		    status = $4,
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1`

	q := database.QuerierFrom(ctx, r.db)
	result, err := q.Exec(ctx, query, id, completed, failed, status)
	if err != nil {
		return fmt.Errorf("failed to complete repair operation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// ListRecent returns the most recently started operations.
func (r *repairRepository) ListRecent(ctx context.Context, limit int) ([]*models.RepairOperation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM repair_operations
		ORDER BY started_at DESC
		LIMIT $1`, repairColumns)

	q := database.QuerierFrom(ctx, r.db)
	rows, err := q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list repair operations: %w", err)
	}
	defer rows.Close()

	return collectRepairOps(rows)
}

func collectRepairOps(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*models.RepairOperation, error) {
	var ops []*models.RepairOperation
	for rows.Next() {
		var op models.RepairOperation
		err := rows.Scan(
			&op.ID,
			&op.StartedBy,
			&op.TotalTargets,
			&op.CompletedCount,
			&op.FailedCount,
			&op.Status,
			&op.DryRun,
			&op.StartedAt,
			&op.CompletedAt,
			&op.CreatedAt,
			&op.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repair operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate repair operations: %w", err)
	}
	return ops, nil
}

// Ensure repairRepository implements RepairRepository at compile time.
var _ RepairRepository = (*repairRepository)(nil)
