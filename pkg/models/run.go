package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Population Run Phases
// ============================================================================

// RunPhase tracks a population run's progress per target handle. Transitions
// are monotonic: a run never re-enters an earlier phase once a later phase
// has committed output.
type RunPhase string

const (
	PhasePending            RunPhase = "pending"
	PhaseFetchInProgress    RunPhase = "fetch_in_progress"
	PhaseFetchDone          RunPhase = "fetch_done"
	PhaseAnalysisInProgress RunPhase = "analysis_in_progress"
	PhaseAnalysisDone       RunPhase = "analysis_done"
	PhaseVerified           RunPhase = "verified"
	PhaseFailed             RunPhase = "failed"
)

// PopulationRun is the durable per-run record. Failed runs keep their row so
// partially-committed output can be traced back to the run that produced it.
type PopulationRun struct {
	ID              uuid.UUID  `json:"id"`
	ProfileID       uuid.UUID  `json:"profile_id"`
	Handle          string     `json:"handle"`
	Phase           RunPhase   `json:"phase"`
	SuccessRate     *float64   `json:"success_rate,omitempty"`
	PartialAccepted bool       `json:"partial_accepted"`
	ShortCircuited  bool       `json:"short_circuited"`
	Error           *string    `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// PopulationResult is a population run's outcome.
type PopulationResult struct {
	Profile *Profile `json:"profile"`
	Phase   RunPhase `json:"phase"`

	// Complete means the six-criterion completeness set is fully satisfied.
	// PartialAccepted means the run passed the acceptance threshold even
	// though some auxiliary stages failed.
	Complete        bool `json:"complete"`
	PartialAccepted bool `json:"partial_accepted"`

	// ShortCircuited means the target was already complete before the run
	// started and nothing was fetched or analyzed.
	ShortCircuited bool `json:"short_circuited"`

	SuccessRate   float64        `json:"success_rate"`
	StageOutcomes []StageOutcome `json:"stage_outcomes,omitempty"`
}
