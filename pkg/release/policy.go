// Package release maps an evaluation outcome to a terminal disposition.
package release

import (
	"github.com/brandloom/council/pkg/types"
)

// Decide routes one council session's artifact. It is a pure function,
// evaluated once per session termination:
//
//	passed                          -> AUTO_DELIVER
//	failed, iterations remaining    -> AUTO_REFINE
//	failed, iterations exhausted    -> HUMAN_REVIEW
//
// Iteration exhaustion is not a failure; it routes to a human instead of
// looping forever.
func Decide(evaluation *types.Evaluation, iteration, maxIterations int) types.Disposition {
	if evaluation != nil && evaluation.Passed {
		return types.AutoDeliver
	}
	if iteration < maxIterations {
		return types.AutoRefine
	}
	return types.HumanReview
}
