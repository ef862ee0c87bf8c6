package models

import (
	"github.com/google/uuid"
)

// CriteriaCount is the fixed number of completeness checks.
const CriteriaCount = 6

// CompletenessCriteria is the six-check criteria set, a pure function of a
// Profile and its persisted post statistics.
type CompletenessCriteria struct {
	HasBasicData      bool `json:"has_basic_data"`
	HasMinimumPosts   bool `json:"has_minimum_posts"`
	HasAnalyzedPosts  bool `json:"has_analyzed_posts"`
	HasProfileRollup  bool `json:"has_profile_rollup"`
	HasCDNAssets      bool `json:"has_cdn_assets"`
	HasRollupFields   bool `json:"has_rollup_fields"`
}

// Score returns metCriteria / 6.
func (c CompletenessCriteria) Score() float64 {
	met := 0
	for _, ok := range []bool{
		c.HasBasicData,
		c.HasMinimumPosts,
		c.HasAnalyzedPosts,
		c.HasProfileRollup,
		c.HasCDNAssets,
		c.HasRollupFields,
	} {
		if ok {
			met++
		}
	}
	return float64(met) / float64(CriteriaCount)
}

// IsComplete reports whether every criterion is met.
func (c CompletenessCriteria) IsComplete() bool {
	return c.Score() == 1.0
}

// Missing lists the names of unmet criteria, for operator output.
func (c CompletenessCriteria) Missing() []string {
	var missing []string
	checks := []struct {
		name string
		met  bool
	}{
		{"basic_data", c.HasBasicData},
		{"minimum_posts", c.HasMinimumPosts},
		{"analyzed_posts", c.HasAnalyzedPosts},
		{"profile_rollup", c.HasProfileRollup},
		{"cdn_assets", c.HasCDNAssets},
		{"rollup_fields", c.HasRollupFields},
	}
	for _, ch := range checks {
		if !ch.met {
			missing = append(missing, ch.name)
		}
	}
	return missing
}

// EvaluateCompleteness computes the criteria set from a profile and its
// persisted post statistics. minPosts is the configured minimum post count.
func EvaluateCompleteness(p *Profile, stats PostStats, minPosts int) CompletenessCriteria {
	if p == nil {
		return CompletenessCriteria{}
	}
	return CompletenessCriteria{
		HasBasicData:     p.Handle != "" && p.FollowerCount > 0,
		HasMinimumPosts:  stats.Total >= minPosts,
		HasAnalyzedPosts: stats.Analyzed >= minPosts,
		HasProfileRollup: p.ProfileAnalyzedAt != nil,
		HasCDNAssets:     stats.WithThumbnail >= minPosts,
		HasRollupFields:  p.PrimaryContentType != nil && p.ContentDistribution != nil,
	}
}

// CompletenessAnalysis is one profile's completeness report, as produced by
// the scanner's set-based query or by a single-target validation.
type CompletenessAnalysis struct {
	ProfileID         uuid.UUID            `json:"profile_id"`
	Handle            string               `json:"handle"`
	Criteria          CompletenessCriteria `json:"criteria"`
	Score             float64              `json:"score"`
	MissingCriteria   []string             `json:"missing_criteria,omitempty"`
	PostCount         int                  `json:"post_count"`
	AnalyzedPostCount int                  `json:"analyzed_post_count"`
	ThumbnailCount    int                  `json:"thumbnail_count"`
}
