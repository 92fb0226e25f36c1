// Package evaluate scores produced artifacts along fixed quality
// dimensions and turns failures into concrete revision guidance.
package evaluate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/brandloom/council/pkg/errors"
	"github.com/brandloom/council/pkg/types"
)

const (
	// DefaultThreshold is the minimum weighted overall score to pass.
	DefaultThreshold = 0.75
	// DefaultHardFloor fails any evaluation where a single dimension
	// scores below it, regardless of the mean. A catastrophic dimension
	// must not be averaged away.
	DefaultHardFloor = 0.5
)

// Score is one dimension's result plus the instruction to give the next
// generation pass if it failed. Model and CostUnits are set when the
// dimension was scored by a paid agent call, so callers can settle its
// cost against the budget.
type Score struct {
	Value        float64
	RevisionNote string
	Model        string
	CostUnits    int64
}

// Scorer scores an artifact along one named dimension.
type Scorer interface {
	Score(ctx context.Context, artifact types.Artifact, dimension string) (Score, error)
}

// Evaluator computes Evaluations from skill-supplied criteria.
type Evaluator struct {
	scorer Scorer
}

// NewEvaluator creates an Evaluator using the given scorer. A nil scorer
// falls back to the built-in structural checks.
func NewEvaluator(scorer Scorer) *Evaluator {
	if scorer == nil {
		scorer = StructuralScorer{}
	}
	return &Evaluator{scorer: scorer}
}

// Evaluate scores the artifact along every dimension the skill weights,
// computes the weighted overall score, and applies the dual pass
// condition: overall >= threshold AND no dimension below the hard floor.
// The second return value lists the paid agent calls the scorer made,
// including calls made before a scoring error, so the caller can commit
// their actual cost.
func (e *Evaluator) Evaluate(ctx context.Context, sessionID string, artifact types.Artifact, skill *types.Skill) (*types.Evaluation, []types.AgentInvocation, error) {
	weights := skill.DimensionWeights
	if len(weights) == 0 {
		weights = DefaultDimensionWeights()
	}

	threshold := skill.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	floor := skill.HardFloor
	if floor <= 0 {
		floor = DefaultHardFloor
	}

	// Deterministic iteration order keeps revision notes stable
	dimensions := make([]string, 0, len(weights))
	for dim := range weights {
		dimensions = append(dimensions, dim)
	}
	sort.Strings(dimensions)

	eval := &types.Evaluation{
		SessionID:       sessionID,
		DimensionScores: make(map[string]float64, len(dimensions)),
	}

	var weightedSum, totalWeight float64
	var invocations []types.AgentInvocation
	floorBreached := false

	for _, dim := range dimensions {
		score, err := e.scorer.Score(ctx, artifact, dim)
		if score.CostUnits > 0 {
			invocations = append(invocations, types.AgentInvocation{
				Role:      types.RoleEvaluator,
				Model:     score.Model,
				CostUnits: score.CostUnits,
			})
		}
		if err != nil {
			return nil, invocations, errors.Wrap(err, errors.ErrEvaluationInconclusive).
				WithContext("dimension", dim)
		}
		if score.Value < 0 || score.Value > 1 {
			return nil, invocations, errors.Newf(errors.ErrEvaluationInconclusive,
				"dimension %s scored %.3f outside [0,1]", dim, score.Value)
		}

		eval.DimensionScores[dim] = score.Value
		weight := weights[dim]
		weightedSum += score.Value * weight
		totalWeight += weight

		if score.Value < floor {
			floorBreached = true
		}
		if score.Value < floor || score.Value < threshold {
			note := score.RevisionNote
			if note == "" {
				note = fmt.Sprintf("improve %s (scored %.2f)", dim, score.Value)
			}
			eval.RevisionNotes = append(eval.RevisionNotes, fmt.Sprintf("%s: %s", dim, note))
		}
	}

	if totalWeight == 0 {
		return nil, invocations, errors.New(errors.ErrEvaluationInconclusive, "skill declares zero total dimension weight")
	}

	eval.OverallScore = weightedSum / totalWeight
	eval.Passed = eval.OverallScore >= threshold && !floorBreached

	if eval.Passed {
		eval.RevisionNotes = nil
	}

	return eval, invocations, nil
}

// PlannedAgentCalls reports how many of the skill's dimensions are scored
// by a paid agent call rather than a deterministic structural check, so a
// caller can reserve budget before evaluation begins.
func PlannedAgentCalls(skill *types.Skill) int {
	weights := skill.DimensionWeights
	if len(weights) == 0 {
		weights = DefaultDimensionWeights()
	}
	n := 0
	for dim := range weights {
		if !structuralDimensions[dim] {
			n++
		}
	}
	return n
}

// DefaultDimensionWeights is the unweighted six-dimension criteria set
// used when a skill declares none.
func DefaultDimensionWeights() map[string]float64 {
	return map[string]float64{
		"voice_fidelity":        1,
		"factual_grounding":     1,
		"structural_compliance": 1,
		"cta_presence":          1,
		"length_compliance":     1,
		"originality":           1,
	}
}

// StructuralScorer scores dimensions with deterministic checks over the
// artifact body. It costs nothing to run, so evaluation never reserves
// budget on this path.
type StructuralScorer struct{}

// Score implements Scorer.
func (StructuralScorer) Score(ctx context.Context, artifact types.Artifact, dimension string) (Score, error) {
	body := artifact.Body

	switch dimension {
	case "length_compliance":
		return scoreLength(body), nil
	case "cta_presence":
		return scoreCTA(body), nil
	case "structural_compliance":
		return scoreStructure(body), nil
	default:
		// Non-structural dimensions need an agent-backed scorer; on the
		// structural path they pass unless the body is empty.
		if strings.TrimSpace(body) == "" {
			return Score{Value: 0, RevisionNote: "produce non-empty content"}, nil
		}
		return Score{Value: 0.8}, nil
	}
}

func scoreLength(body string) Score {
	n := len(strings.TrimSpace(body))
	switch {
	case n == 0:
		return Score{Value: 0, RevisionNote: "content is empty"}
	case n < 80:
		return Score{Value: 0.4, RevisionNote: fmt.Sprintf("expand the draft, %d characters is too short", n)}
	case n > 20000:
		return Score{Value: 0.4, RevisionNote: fmt.Sprintf("tighten the draft, %d characters is too long", n)}
	default:
		return Score{Value: 1}
	}
}

func scoreCTA(body string) Score {
	lower := strings.ToLower(body)
	for _, marker := range []string{"sign up", "learn more", "book a", "get started", "contact", "subscribe", "reply"} {
		if strings.Contains(lower, marker) {
			return Score{Value: 1}
		}
	}
	return Score{Value: 0.3, RevisionNote: "add a clear call to action"}
}

func scoreStructure(body string) Score {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return Score{Value: 0, RevisionNote: "content is empty"}
	}
	if strings.Count(trimmed, "\n") == 0 && len(trimmed) > 400 {
		return Score{Value: 0.4, RevisionNote: "break the content into paragraphs or sections"}
	}
	return Score{Value: 1}
}
