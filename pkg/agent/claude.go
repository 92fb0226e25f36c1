package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/brandloom/council/pkg/errors"
	"github.com/brandloom/council/pkg/types"
)

// ClaudeAgent invokes Claude for generation and evaluation roles.
// Without an API key it degrades to a deterministic mock so local runs
// and the MCP server still function end to end.
type ClaudeAgent struct {
	apiKey string
	model  string
}

// NewClaudeAgent creates a Claude-backed invoker using the given model.
func NewClaudeAgent(model string) *ClaudeAgent {
	if model == "" {
		model = "claude-sonnet-4"
	}
	return &ClaudeAgent{
		apiKey: os.Getenv("CLAUDE_API_KEY"),
		model:  model,
	}
}

// Initialize verifies the agent is usable.
func (a *ClaudeAgent) Initialize(ctx context.Context) error {
	if a.apiKey == "" {
		log.Println("Warning: CLAUDE_API_KEY not set, using mock generation")
	}
	return nil
}

// Invoke runs one role-typed call. Cost is reported in ledger units.
func (a *ClaudeAgent) Invoke(ctx context.Context, req Request) (*Response, error) {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(ctx.Err(), errors.ErrTimeout)
		}
		return nil, errors.Wrap(ctx.Err(), errors.ErrCancelled)
	default:
	}

	if req.Prompt == "" {
		return nil, errors.New(errors.ErrAgentPermanent, "empty prompt")
	}

	// In a real deployment this calls the Claude API; the mock path keeps
	// local runs deterministic.
	return a.mockInvoke(req)
}

// mockInvoke produces deterministic content derived from the request so
// tests and local runs behave repeatably.
func (a *ClaudeAgent) mockInvoke(req Request) (*Response, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", req.Role, req.Prompt)

	if req.Bundle != nil {
		for _, slice := range req.Bundle.Slices {
			fmt.Fprintf(&b, "context:%s tier:%d\n", slice.Name, slice.Tier)
		}
	}
	for _, note := range req.RevisionNotes {
		fmt.Fprintf(&b, "revised-for: %s\n", note)
	}

	cost := int64(5)
	if req.Role == types.RoleOrchestrator {
		cost = 10
	}

	return &Response{
		Artifact: types.Artifact{
			Body:   b.String(),
			Format: "markdown",
		},
		Model:     a.model,
		CostUnits: cost,
	}, nil
}
