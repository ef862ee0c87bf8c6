package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Repair Operation Status
// ============================================================================

// RepairStatus represents the lifecycle of a batch repair operation.
type RepairStatus string

const (
	RepairStatusPending    RepairStatus = "pending"
	RepairStatusProcessing RepairStatus = "processing"
	RepairStatusCompleted  RepairStatus = "completed"
	RepairStatusFailed     RepairStatus = "failed"
)

// ValidRepairStatuses contains all valid repair status values.
var ValidRepairStatuses = []RepairStatus{
	RepairStatusPending,
	RepairStatusProcessing,
	RepairStatusCompleted,
	RepairStatusFailed,
}

// IsTerminal returns true if the repair status is terminal.
func (s RepairStatus) IsTerminal() bool {
	return s == RepairStatusCompleted || s == RepairStatusFailed
}

// ============================================================================
// Repair Operation
// ============================================================================

// RepairOperation is the operator-audit record for one batch repair. It is
// created at batch start and updated only by the owning batch at completion.
type RepairOperation struct {
	ID             uuid.UUID    `json:"id"`
	StartedBy      string       `json:"started_by"`
	TotalTargets   int          `json:"total_targets"`
	CompletedCount int          `json:"completed_count"`
	FailedCount    int          `json:"failed_count"`
	Status         RepairStatus `json:"status"`
	DryRun         bool         `json:"dry_run"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// RepairTargetResult is one target's outcome inside a batch.
type RepairTargetResult struct {
	ProfileID uuid.UUID    `json:"profile_id"`
	Handle    string       `json:"handle"`
	Action    RepairAction `json:"action"`
	Succeeded bool         `json:"succeeded"`
	Error     string       `json:"error,omitempty"`
}

// RepairSummary is returned to the operator regardless of individual target
// failures.
type RepairSummary struct {
	OperationID       uuid.UUID            `json:"operation_id"`
	TotalTargets      int                  `json:"total_targets"`
	SuccessfulRepairs int                  `json:"successful_repairs"`
	FailedRepairs     int                  `json:"failed_repairs"`
	DryRun            bool                 `json:"dry_run"`
	Results           []RepairTargetResult `json:"results"`
}
