// Package skills reads declarative skill definitions from the document
// store. The engine never hardcodes skill-specific logic; whatever a
// council needs to run comes from these documents.
package skills

import (
	"context"

	"github.com/brandloom/council/pkg/errors"
	"github.com/brandloom/council/pkg/store"
	"github.com/brandloom/council/pkg/types"
)

const (
	defaultMaxIterations = 2
	defaultEstimatedUnit = 25
)

// Registry resolves skill names to definitions.
type Registry struct {
	store store.Store
}

// NewRegistry creates a Registry over st.
func NewRegistry(st store.Store) *Registry {
	return &Registry{store: st}
}

// Get loads the skill document at skills/{name} and applies engine
// defaults to unset fields.
func (r *Registry) Get(ctx context.Context, name string) (*types.Skill, error) {
	if name == "" {
		return nil, errors.New(errors.ErrInvalidInput, "empty skill name")
	}

	var skill types.Skill
	err := r.store.GetDoc(ctx, "skills/"+name, &skill)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errors.Newf(errors.ErrSkillNotFound, "unknown skill %q", name)
		}
		return nil, errors.Wrap(err, errors.ErrStoreUnavailable)
	}

	skill.Name = name
	applyDefaults(&skill)
	return &skill, nil
}

func applyDefaults(skill *types.Skill) {
	if skill.MaxIterations <= 0 {
		skill.MaxIterations = defaultMaxIterations
	}
	if skill.EstimatedUnitsPerCall <= 0 {
		skill.EstimatedUnitsPerCall = defaultEstimatedUnit
	}
	if len(skill.WorkerRoles) == 0 {
		skill.WorkerRoles = []string{"drafter"}
	}
	// Threshold, hard floor, and dimension weights default inside the
	// evaluator; zero values here mean "use engine defaults".
}
