package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ============================================================================
// Stage Kinds
// ============================================================================

// StageKind identifies one independently retryable analysis stage. The set is
// closed: the stage registry refuses to start unless every kind listed here
// has a registered implementation.
type StageKind string

const (
	StageCategory  StageKind = "category"
	StageSentiment StageKind = "sentiment"
	StageLanguage  StageKind = "language"
	StageThumbnail StageKind = "thumbnail"
	StageRollup    StageKind = "rollup"
)

// ValidStageKinds contains every stage kind, in registry order.
var ValidStageKinds = []StageKind{
	StageCategory,
	StageSentiment,
	StageLanguage,
	StageThumbnail,
	StageRollup,
}

// IsValidStageKind checks if the given kind is part of the closed set.
func IsValidStageKind(k StageKind) bool {
	for _, v := range ValidStageKinds {
		if v == k {
			return true
		}
	}
	return false
}

// IsProfileLevel returns true for aggregation-style stages that read
// already-persisted per-post output instead of the fetch payload. These run
// strictly after all per-post stages have committed.
func (k StageKind) IsProfileLevel() bool {
	return k == StageRollup
}

// Mandatory returns true for stages whose output is required before a post
// may carry a non-nil AnalyzedAt.
func (k StageKind) Mandatory() bool {
	switch k {
	case StageCategory, StageSentiment, StageLanguage:
		return true
	}
	return false
}

// ============================================================================
// Stage Results
// ============================================================================

// PostStageOutput is one stage's output for one post. Only the fields owned by
// the producing stage are populated; the persistence layer writes only those
// columns, so concurrent stages never overwrite each other.
type PostStageOutput struct {
	Category           *string         `json:"category,omitempty"`
	CategoryConfidence *float64        `json:"category_confidence,omitempty"`
	Sentiment          *string         `json:"sentiment,omitempty"`
	SentimentScore     *float64        `json:"sentiment_score,omitempty"`
	LanguageCode       *string         `json:"language_code,omitempty"`
	CDNThumbnailURL    *string         `json:"cdn_thumbnail_url,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

// StageResult is the typed output contract of one stage run. Per-post stages
// populate Posts; profile-level stages populate Rollup.
type StageResult struct {
	Kind   StageKind                       `json:"kind"`
	Posts  map[uuid.UUID]*PostStageOutput  `json:"posts,omitempty"`
	Rollup *Rollup                         `json:"rollup,omitempty"`
}

// StageOutcome records one stage's attempt history within an orchestration
// run, for verification and later consistency analysis.
type StageOutcome struct {
	Kind      StageKind `json:"kind"`
	Attempts  int       `json:"attempts"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
}
