package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is one row per external creator handle. Rollup fields are nil until
// the profile-level aggregation stage (or a repair) has run; ProfileAnalyzedAt
// is the marker for "a rollup exists".
type Profile struct {
	ID            uuid.UUID `json:"id"`
	Handle        string    `json:"handle"`
	FullName      string    `json:"full_name"`
	Biography     string    `json:"biography"`
	FollowerCount int       `json:"follower_count"`
	PostCount     int       `json:"post_count"`

	// Rollup fields, written only by the rollup stage or a repair.
	PrimaryContentType   *string            `json:"primary_content_type,omitempty"`
	ContentDistribution  map[string]float64 `json:"content_distribution,omitempty"`
	AvgSentimentScore    *float64           `json:"avg_sentiment_score,omitempty"`
	LanguageDistribution map[string]float64 `json:"language_distribution,omitempty"`
	ContentQualityScore  *float64           `json:"content_quality_score,omitempty"`
	ProfileAnalyzedAt    *time.Time         `json:"profile_analyzed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRollup reports whether the profile-level aggregation has been persisted.
func (p *Profile) HasRollup() bool {
	return p.ProfileAnalyzedAt != nil
}

// Rollup is the profile-level aggregation computed from already-persisted
// per-post stage output.
type Rollup struct {
	PrimaryContentType   string             `json:"primary_content_type"`
	ContentDistribution  map[string]float64 `json:"content_distribution"`
	AvgSentimentScore    float64            `json:"avg_sentiment_score"`
	LanguageDistribution map[string]float64 `json:"language_distribution"`
	ContentQualityScore  float64            `json:"content_quality_score"`
	ComputedAt           time.Time          `json:"computed_at"`
}
