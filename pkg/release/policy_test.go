package release

import (
	"testing"

	"github.com/brandloom/council/pkg/types"
)

func TestDecideMatrix(t *testing.T) {
	tests := []struct {
		name          string
		passed        bool
		iteration     int
		maxIterations int
		want          types.Disposition
	}{
		{"passed first attempt", true, 0, 2, types.AutoDeliver},
		{"passed mid loop", true, 1, 2, types.AutoDeliver},
		{"passed at bound", true, 2, 2, types.AutoDeliver},
		{"failed with iterations left", false, 0, 2, types.AutoRefine},
		{"failed second attempt", false, 1, 2, types.AutoRefine},
		{"failed at bound", false, 2, 2, types.HumanReview},
		{"failed beyond bound", false, 3, 2, types.HumanReview},
		{"zero max iterations failed", false, 0, 0, types.HumanReview},
		{"zero max iterations passed", true, 0, 0, types.AutoDeliver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &types.Evaluation{Passed: tt.passed}
			got := Decide(eval, tt.iteration, tt.maxIterations)
			if got != tt.want {
				t.Errorf("Decide(passed=%v, %d, %d) = %s, want %s",
					tt.passed, tt.iteration, tt.maxIterations, got, tt.want)
			}
		})
	}
}

func TestDecideNilEvaluation(t *testing.T) {
	if got := Decide(nil, 0, 2); got != types.AutoRefine {
		t.Errorf("Decide(nil, 0, 2) = %s, want AUTO_REFINE", got)
	}
	if got := Decide(nil, 2, 2); got != types.HumanReview {
		t.Errorf("Decide(nil, 2, 2) = %s, want HUMAN_REVIEW", got)
	}
}

// Three consecutive failing evaluations with maxIterations=2 must route
// refine, refine, review and never invite a fourth generation.
func TestDecideExhaustionSequence(t *testing.T) {
	failing := &types.Evaluation{Passed: false}
	want := []types.Disposition{types.AutoRefine, types.AutoRefine, types.HumanReview}

	for iteration, expected := range want {
		got := Decide(failing, iteration, 2)
		if got != expected {
			t.Fatalf("iteration %d: got %s, want %s", iteration, got, expected)
		}
	}
}

func TestDecideIsPure(t *testing.T) {
	eval := &types.Evaluation{Passed: false, OverallScore: 0.6}
	first := Decide(eval, 1, 2)
	for i := 0; i < 100; i++ {
		if got := Decide(eval, 1, 2); got != first {
			t.Fatalf("Decide returned %s after returning %s for identical inputs", got, first)
		}
	}
	if eval.OverallScore != 0.6 || eval.Passed {
		t.Error("Decide mutated its evaluation argument")
	}
}
