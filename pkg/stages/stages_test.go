package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/creator-engine/pkg/models"
)

// stubStage is a no-op stage with a fixed kind, for registry tests.
type stubStage struct {
	kind models.StageKind
}

func (s *stubStage) Kind() models.StageKind { return s.kind }

func (s *stubStage) Analyze(ctx context.Context, input *Input) (*models.StageResult, error) {
	return &models.StageResult{Kind: s.kind}, nil
}

func fullStageSet() []Stage {
	out := make([]Stage, 0, len(models.ValidStageKinds))
	for _, kind := range models.ValidStageKinds {
		out = append(out, &stubStage{kind: kind})
	}
	return out
}

func TestNewRegistry_FullSet(t *testing.T) {
	reg, err := NewRegistry(fullStageSet()...)
	require.NoError(t, err)
	assert.Equal(t, len(models.ValidStageKinds), reg.Len())

	for _, kind := range models.ValidStageKinds {
		s, ok := reg.Get(kind)
		require.True(t, ok, "missing %s", kind)
		assert.Equal(t, kind, s.Kind())
	}
}

func TestNewRegistry_MissingKindRejected(t *testing.T) {
	var incomplete []Stage
	for _, s := range fullStageSet() {
		if s.Kind() == models.StageRollup {
			continue
		}
		incomplete = append(incomplete, s)
	}

	_, err := NewRegistry(incomplete...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollup")
}

func TestNewRegistry_DuplicateKindRejected(t *testing.T) {
	set := append(fullStageSet(), &stubStage{kind: models.StageCategory})
	_, err := NewRegistry(set...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewRegistry_UnknownKindRejected(t *testing.T) {
	set := append(fullStageSet(), &stubStage{kind: models.StageKind("embedding")})
	_, err := NewRegistry(set...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
}

func TestRegistry_LevelSplit(t *testing.T) {
	reg, err := NewRegistry(fullStageSet()...)
	require.NoError(t, err)

	postLevel := reg.PostLevel()
	profileLevel := reg.ProfileLevel()

	assert.Len(t, postLevel, 4)
	require.Len(t, profileLevel, 1)
	assert.Equal(t, models.StageRollup, profileLevel[0].Kind())
	for _, s := range postLevel {
		assert.False(t, s.Kind().IsProfileLevel())
	}
}
