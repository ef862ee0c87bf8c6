// Package stages holds the analysis stage registry. Each stage is one
// independently retryable unit of analysis with a typed input/output
// contract; the orchestrator invokes them uniformly by kind.
package stages

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pulseboard/creator-engine/pkg/models"
)

// PostInput pairs a stored post's ID with its source payload so stage output
// can be persisted against the right row. Done marks the stage kinds whose
// output this post already carries; those stages skip it.
type PostInput struct {
	ID   uuid.UUID
	Data models.PostData
	Done map[models.StageKind]bool
}

// Input is the uniform stage input: the fetched profile payload plus the
// stored posts it produced. Profile-level stages ignore Posts and read the
// store instead.
type Input struct {
	ProfileID uuid.UUID
	Profile   *models.ProfileData
	Posts     []PostInput
}

// ForKind returns a shallow copy of the input holding only the posts that
// still need the given stage's output.
func (in *Input) ForKind(kind models.StageKind) *Input {
	filtered := &Input{ProfileID: in.ProfileID, Profile: in.Profile}
	for _, p := range in.Posts {
		if p.Done[kind] {
			continue
		}
		filtered.Posts = append(filtered.Posts, p)
	}
	return filtered
}

// Stage is one analysis stage.
type Stage interface {
	Kind() models.StageKind
	Analyze(ctx context.Context, input *Input) (*models.StageResult, error)
}

// Registry is the closed, compile-time-checked stage set. Construction fails
// unless every models.ValidStageKinds entry has exactly one implementation,
// so a stage can never be silently orphaned or unregistered.
type Registry struct {
	stages map[models.StageKind]Stage
}

// NewRegistry builds a registry and verifies it covers the closed kind set.
func NewRegistry(stages ...Stage) (*Registry, error) {
	byKind := make(map[models.StageKind]Stage, len(stages))
	for _, s := range stages {
		kind := s.Kind()
		if !models.IsValidStageKind(kind) {
			return nil, fmt.Errorf("unknown stage kind %q", kind)
		}
		if _, dup := byKind[kind]; dup {
			return nil, fmt.Errorf("duplicate stage kind %q", kind)
		}
		byKind[kind] = s
	}
	for _, kind := range models.ValidStageKinds {
		if _, ok := byKind[kind]; !ok {
			return nil, fmt.Errorf("no implementation registered for stage kind %q", kind)
		}
	}
	return &Registry{stages: byKind}, nil
}

// Get returns the stage for a kind.
func (r *Registry) Get(kind models.StageKind) (Stage, bool) {
	s, ok := r.stages[kind]
	return s, ok
}

// PostLevel returns the per-post stages in registry order. These may run
// concurrently with each other: no two write the same columns.
func (r *Registry) PostLevel() []Stage {
	var out []Stage
	for _, kind := range models.ValidStageKinds {
		if !kind.IsProfileLevel() {
			out = append(out, r.stages[kind])
		}
	}
	return out
}

// ProfileLevel returns the aggregation-style stages, which run strictly after
// every per-post stage has committed.
func (r *Registry) ProfileLevel() []Stage {
	var out []Stage
	for _, kind := range models.ValidStageKinds {
		if kind.IsProfileLevel() {
			out = append(out, r.stages[kind])
		}
	}
	return out
}

// Len returns the number of registered stages.
func (r *Registry) Len() int {
	return len(r.stages)
}
