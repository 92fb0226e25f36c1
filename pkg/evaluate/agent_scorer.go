package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brandloom/council/pkg/agent"
	"github.com/brandloom/council/pkg/errors"
	"github.com/brandloom/council/pkg/retry"
	"github.com/brandloom/council/pkg/timeout"
	"github.com/brandloom/council/pkg/types"
)

// AgentScorer scores non-structural dimensions by invoking the agent layer
// in the evaluator role, falling back to deterministic checks for the
// dimensions those handle better. Agent calls run under the same
// per-operation timeout and transient-retry budget as generation calls,
// and their cost is surfaced on the returned Score.
type AgentScorer struct {
	invoker    agent.Invoker
	timeouts   *timeout.Manager
	retryCfg   retry.Config
	structural StructuralScorer
}

// NewAgentScorer wraps invoker as a Scorer. A nil timeout manager and a
// zero retry config fall back to the defaults.
func NewAgentScorer(invoker agent.Invoker, timeouts *timeout.Manager, retryCfg retry.Config) *AgentScorer {
	if timeouts == nil {
		timeouts = timeout.NewManager(30 * time.Second)
	}
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &AgentScorer{invoker: invoker, timeouts: timeouts, retryCfg: retryCfg}
}

// structuralDimensions are cheaper and more reliable to check in code.
var structuralDimensions = map[string]bool{
	"length_compliance":     true,
	"cta_presence":          true,
	"structural_compliance": true,
}

type scoredReply struct {
	Score float64 `json:"score"`
	Note  string  `json:"note"`
}

// Score implements Scorer.
func (s *AgentScorer) Score(ctx context.Context, artifact types.Artifact, dimension string) (Score, error) {
	if structuralDimensions[dimension] {
		return s.structural.Score(ctx, artifact, dimension)
	}

	prompt := fmt.Sprintf(
		"Score the following artifact for %s on a 0.0-1.0 scale. "+
			"Respond with JSON {\"score\": <float>, \"note\": <actionable instruction if below 0.75>}.\n\n%s",
		dimension, artifact.Body)

	resp, err := retry.Execute(ctx, func() (*agent.Response, error) {
		callCtx, cancel := s.timeouts.WithTimeout(ctx, "agent-invoke")
		defer cancel()

		resp, err := s.invoker.Invoke(callCtx, agent.Request{
			Role:   types.RoleEvaluator,
			Prompt: prompt,
		})
		if err != nil {
			if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return nil, errors.Wrap(err, errors.ErrTimeout)
			}
			return nil, err
		}
		return resp, nil
	}, s.retryCfg)
	if err != nil {
		return Score{}, err
	}

	reply, err := parseScoredReply(resp.Artifact.Body)
	if err != nil {
		// The call was made and paid for even though the reply is
		// unusable, so the cost still travels with the score.
		return Score{Model: resp.Model, CostUnits: resp.CostUnits},
			errors.Newf(errors.ErrEvaluationInconclusive,
				"evaluator reply for %s was not parseable: %v", dimension, err)
	}

	return Score{
		Value:        reply.Score,
		RevisionNote: reply.Note,
		Model:        resp.Model,
		CostUnits:    resp.CostUnits,
	}, nil
}

// parseScoredReply extracts the JSON object from the evaluator's reply,
// tolerating surrounding prose.
func parseScoredReply(body string) (*scoredReply, error) {
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var reply scoredReply
	if err := json.Unmarshal([]byte(body[start:end+1]), &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
