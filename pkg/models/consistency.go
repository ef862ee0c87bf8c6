package models

import "github.com/google/uuid"

// ============================================================================
// Consistency Checks
// ============================================================================

// CheckKind identifies one consistency check.
type CheckKind string

const (
	CheckPartialPostAnalysis  CheckKind = "partial_post_analysis"
	CheckMissingRollup        CheckKind = "missing_rollup"
	CheckStaleRollup          CheckKind = "stale_rollup"
	CheckOrphanedOutput       CheckKind = "orphaned_output"
	CheckFailedButProductive  CheckKind = "failed_but_productive"
)

// Severity ranks how value-destructive a partial state is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RepairAction is the suggested remediation for a finding.
type RepairAction string

const (
	// RepairRecomputeRollup recomputes the profile rollup purely from
	// already-persisted per-post fields. No re-fetch, no re-analysis.
	RepairRecomputeRollup RepairAction = "recompute_rollup"
	// RepairRerunMissingStages re-invokes only the missing per-post stages.
	RepairRerunMissingStages RepairAction = "rerun_missing_stages"
	// RepairDeleteOrphans deletes stage output with no parent row.
	RepairDeleteOrphans RepairAction = "delete_orphans"
	// RepairFullRepopulation re-enters the population pipeline from the top.
	RepairFullRepopulation RepairAction = "full_repopulation"
	// RepairNone means the record needs no write.
	RepairNone RepairAction = "none"
)

// Finding is one consistency check's result over the whole record store.
type Finding struct {
	Check           CheckKind    `json:"check"`
	Severity        Severity     `json:"severity"`
	AffectedCount   int          `json:"affected_count"`
	AffectedIDs     []uuid.UUID  `json:"affected_ids"`
	SuggestedAction RepairAction `json:"suggested_action"`
	Detail          string       `json:"detail,omitempty"`
}
