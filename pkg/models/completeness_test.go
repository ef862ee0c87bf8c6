package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompletenessCriteria_Score(t *testing.T) {
	tests := []struct {
		name     string
		criteria CompletenessCriteria
		want     float64
	}{
		{
			name:     "none met",
			criteria: CompletenessCriteria{},
			want:     0,
		},
		{
			name: "half met",
			criteria: CompletenessCriteria{
				HasBasicData:    true,
				HasMinimumPosts: true,
				HasAnalyzedPosts: true,
			},
			want: 0.5,
		},
		{
			name: "all met",
			criteria: CompletenessCriteria{
				HasBasicData:     true,
				HasMinimumPosts:  true,
				HasAnalyzedPosts: true,
				HasProfileRollup: true,
				HasCDNAssets:     true,
				HasRollupFields:  true,
			},
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.criteria.Score(), 1e-9)
			assert.Equal(t, tt.want == 1.0, tt.criteria.IsComplete())
		})
	}
}

func TestCompletenessCriteria_Missing(t *testing.T) {
	c := CompletenessCriteria{
		HasBasicData:     true,
		HasMinimumPosts:  true,
		HasAnalyzedPosts: true,
		HasCDNAssets:     true,
	}
	assert.ElementsMatch(t, []string{"profile_rollup", "rollup_fields"}, c.Missing())
}

func TestEvaluateCompleteness(t *testing.T) {
	now := time.Now()
	category := "lifestyle"
	profile := &Profile{
		Handle:              "creator",
		FollowerCount:       1200,
		PrimaryContentType:  &category,
		ContentDistribution: map[string]float64{"lifestyle": 1.0},
		ProfileAnalyzedAt:   &now,
	}

	c := EvaluateCompleteness(profile, PostStats{Total: 12, Analyzed: 12, WithThumbnail: 12}, 12)
	assert.True(t, c.IsComplete())

	// Ten of twelve posts analyzed: analyzed-posts criterion fails, nothing else.
	c = EvaluateCompleteness(profile, PostStats{Total: 12, Analyzed: 10, WithThumbnail: 12}, 12)
	assert.False(t, c.IsComplete())
	assert.Equal(t, []string{"analyzed_posts"}, c.Missing())

	// Nil profile scores zero.
	assert.Zero(t, EvaluateCompleteness(nil, PostStats{}, 12).Score())
}

func TestStageKind_Predicates(t *testing.T) {
	for _, k := range ValidStageKinds {
		assert.True(t, IsValidStageKind(k))
	}
	assert.False(t, IsValidStageKind(StageKind("embedding")))

	assert.True(t, StageRollup.IsProfileLevel())
	assert.False(t, StageCategory.IsProfileLevel())

	assert.True(t, StageCategory.Mandatory())
	assert.True(t, StageSentiment.Mandatory())
	assert.True(t, StageLanguage.Mandatory())
	assert.False(t, StageThumbnail.Mandatory())
	assert.False(t, StageRollup.Mandatory())
}

func TestPost_HasMandatoryAnalysis(t *testing.T) {
	cat, sent, lang := "fitness", "positive", "en"
	p := &Post{Category: &cat, Sentiment: &sent}
	assert.False(t, p.HasMandatoryAnalysis())
	p.LanguageCode = &lang
	assert.True(t, p.HasMandatoryAnalysis())
}
