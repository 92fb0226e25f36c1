// Package agent isolates the language-model invocation capability. The
// engine only ever sees success, transient failure, or permanent failure;
// any primary/fallback strategy lives behind the Invoker.
package agent

import (
	"context"

	"github.com/brandloom/council/pkg/types"
)

// Request is one role-typed invocation inside a council.
type Request struct {
	Role            types.AgentRole
	Prompt          string
	InputParameters map[string]interface{}
	Bundle          *types.ContextBundle
	// RevisionNotes carry the evaluator's guidance into refinement
	// iterations. They are additive: the original input parameters
	// always travel alongside, untouched.
	RevisionNotes []string
}

// Response is the artifact plus what it cost.
type Response struct {
	Artifact  types.Artifact
	Model     string
	CostUnits int64
}

// Invoker is the capability interface for the agent layer. Errors must be
// classified through the engine taxonomy: ErrAgentTransient failures are
// retried, ErrAgentPermanent failures abort the task.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
