// Package coordinator drives one Task end to end: fingerprint lock,
// context load, the generate→evaluate→revise loop under bounded
// iterations and budget admission, and the terminal disposition.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brandloom/council/pkg/agent"
	"github.com/brandloom/council/pkg/budget"
	"github.com/brandloom/council/pkg/contextload"
	"github.com/brandloom/council/pkg/delivery"
	"github.com/brandloom/council/pkg/errors"
	"github.com/brandloom/council/pkg/evaluate"
	"github.com/brandloom/council/pkg/idempotency"
	"github.com/brandloom/council/pkg/release"
	"github.com/brandloom/council/pkg/retry"
	"github.com/brandloom/council/pkg/skills"
	"github.com/brandloom/council/pkg/store"
	"github.com/brandloom/council/pkg/timeout"
	"github.com/brandloom/council/pkg/types"
)

// RunOptions tune one RunTask call.
type RunOptions struct {
	// WaitForResult controls what happens when the fingerprint is
	// already executing: true attaches to the outstanding lease's
	// eventual result, false fails fast with DuplicateInProgress.
	WaitForResult bool
}

// Coordinator owns Task and CouncilSession lifecycle.
type Coordinator struct {
	store     store.Store
	guard     *idempotency.Guard
	ledger    *budget.Ledger
	loader    *contextload.Loader
	invoker   agent.Invoker
	evaluator *evaluate.Evaluator
	skills    *skills.Registry
	sink      delivery.Sink
	timeouts  *timeout.Manager
	retryCfg  retry.Config

	// sem bounds concurrent sessions; nothing else is shared across
	// tasks outside the guard and the ledger.
	sem chan struct{}

	mu     sync.RWMutex
	active map[string]*TaskStatus
}

// Deps collects the capability wiring for a Coordinator.
type Deps struct {
	Store      store.Store
	Guard      *idempotency.Guard
	Ledger     *budget.Ledger
	Loader     *contextload.Loader
	Invoker    agent.Invoker
	Evaluator  *evaluate.Evaluator
	Skills     *skills.Registry
	Sink       delivery.Sink
	Timeouts   *timeout.Manager
	RetryCfg   retry.Config
	WorkerPool int
}

// New creates a Coordinator. All shared mutable components are constructed
// once here, at process start.
func New(deps Deps) *Coordinator {
	pool := deps.WorkerPool
	if pool <= 0 {
		pool = 8
	}
	cfg := deps.RetryCfg
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	return &Coordinator{
		store:     deps.Store,
		guard:     deps.Guard,
		ledger:    deps.Ledger,
		loader:    deps.Loader,
		invoker:   deps.Invoker,
		evaluator: deps.Evaluator,
		skills:    deps.Skills,
		sink:      deps.Sink,
		timeouts:  deps.Timeouts,
		retryCfg:  cfg,
		sem:       make(chan struct{}, pool),
		active:    make(map[string]*TaskStatus),
	}
}

// TaskStatus is the read-only view served by GetTaskStatus.
type TaskStatus struct {
	TaskID      string            `json:"taskId" firestore:"taskId"`
	ClientID    string            `json:"clientId" firestore:"clientId"`
	SkillName   string            `json:"skillName" firestore:"skillName"`
	Fingerprint string            `json:"fingerprint" firestore:"fingerprint"`
	Status      string            `json:"status" firestore:"status"`
	Disposition types.Disposition `json:"disposition,omitempty" firestore:"disposition,omitempty"`
	ErrorCode   string            `json:"errorCode,omitempty" firestore:"errorCode,omitempty"`
	StartedAt   time.Time         `json:"startedAt" firestore:"startedAt"`
	UpdatedAt   time.Time         `json:"updatedAt" firestore:"updatedAt"`
}

// RunTask executes one unit of work to a terminal disposition.
func (c *Coordinator) RunTask(ctx context.Context, clientID, skillName string, params map[string]interface{}, opts RunOptions) (*types.TaskResult, error) {
	if clientID == "" {
		return nil, errors.New(errors.ErrInvalidInput, "empty client id")
	}

	skill, err := c.skills.Get(ctx, skillName)
	if err != nil {
		return nil, err
	}

	fp, err := idempotency.Fingerprint(clientID, skillName, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput)
	}

	// A fresh-enough completed result short-circuits everything: no
	// lease, no budget, no agent calls.
	if record, hit, err := c.guard.Lookup(ctx, fp, skill.MaxResultAge()); err != nil {
		return nil, err
	} else if hit {
		log.Printf("Fingerprint %s served from cache for client %s", fp, clientID)
		result := *record.Result
		result.Reused = true
		return &result, nil
	}

	lease, err := c.guard.Acquire(ctx, fp)
	if err != nil {
		if errors.IsCode(err, errors.ErrDuplicateInProgress) && opts.WaitForResult {
			return c.attachToResult(ctx, fp)
		}
		return nil, err
	}

	task := types.Task{
		TaskID:          uuid.New().String(),
		ClientID:        clientID,
		SkillName:       skillName,
		InputParameters: params,
		CreatedAt:       time.Now(),
	}

	c.trackStatus(ctx, &TaskStatus{
		TaskID:      task.TaskID,
		ClientID:    clientID,
		SkillName:   skillName,
		Fingerprint: fp,
		Status:      "running",
		StartedAt:   task.CreatedAt,
		UpdatedAt:   task.CreatedAt,
	})

	// Bound concurrent sessions. The lease is already held, so
	// duplicates queue behind this execution rather than racing it.
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		c.releaseTerminal(ctx, lease, task, idempotency.RecordCancelled, errors.ErrCancelled, nil)
		return nil, errors.Wrap(ctx.Err(), errors.ErrCancelled)
	}
	defer func() { <-c.sem }()

	result, runErr := c.runSessions(ctx, task, skill, fp, lease)
	if runErr != nil {
		status := idempotency.RecordFailed
		code := errors.CodeOf(runErr)
		if code == errors.ErrCancelled {
			status = idempotency.RecordCancelled
		}
		c.releaseTerminal(ctx, lease, task, status, code, nil)
		return nil, runErr
	}

	c.releaseTerminal(ctx, lease, task, idempotency.RecordCompleted, "", result)
	return result, nil
}

// attachToResult waits for the in-flight execution of the same fingerprint
// and returns its result.
func (c *Coordinator) attachToResult(ctx context.Context, fp string) (*types.TaskResult, error) {
	log.Printf("Attaching to in-flight execution of fingerprint %s", fp)

	record, err := c.guard.Await(ctx, fp)
	if err != nil {
		return nil, err
	}
	if record.Status != idempotency.RecordCompleted || record.Result == nil {
		return nil, errors.Newf(errors.ErrDuplicateInProgress,
			"in-flight execution of fingerprint %s ended %s", fp, record.Status)
	}

	result := *record.Result
	result.Reused = true
	return &result, nil
}

// runSessions drives the bounded generate→evaluate→revise loop. Steps
// inside one iteration run strictly in sequence.
func (c *Coordinator) runSessions(ctx context.Context, task types.Task, skill *types.Skill, fp string, lease *idempotency.Lease) (*types.TaskResult, error) {
	bundle, err := c.loader.Load(ctx, task.ClientID, skill.Name, skill.RequiredSlices)
	if err != nil {
		return nil, err
	}

	var (
		history       []types.CouncilSession
		revisionNotes []string
		artifact      types.Artifact
		evaluation    *types.Evaluation
		disposition   types.Disposition
	)

	for iteration := 0; iteration <= skill.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrCancelled)
		}

		session := types.CouncilSession{
			SessionID:   uuid.New().String(),
			TaskID:      task.TaskID,
			Fingerprint: fp,
			Iteration:   iteration,
			StartedAt:   time.Now(),
		}

		art, invocations, err := c.runCouncil(ctx, task, skill, bundle, revisionNotes)
		session.AgentsInvoked = invocations
		if err != nil {
			session.EndedAt = time.Now()
			session.Outcome = types.OutcomeFailed
			c.archiveSession(ctx, task.ClientID, session)
			return nil, err
		}
		artifact = art

		var evalCalls []types.AgentInvocation
		evaluation, evalCalls, err = c.scoreArtifact(ctx, task, skill, session.SessionID, artifact)
		session.AgentsInvoked = append(session.AgentsInvoked, evalCalls...)
		if err != nil {
			session.EndedAt = time.Now()
			session.Outcome = types.OutcomeFailed
			c.archiveSession(ctx, task.ClientID, session)
			return nil, err
		}

		disposition = release.Decide(evaluation, iteration, skill.MaxIterations)
		session.EndedAt = time.Now()
		session.Outcome = outcomeFor(disposition)
		history = append(history, session)
		c.archiveSession(ctx, task.ClientID, session)

		log.Printf("Task %s iteration %d scored %.3f -> %s",
			task.TaskID, iteration, evaluation.OverallScore, disposition)

		if disposition != types.AutoRefine {
			break
		}
		// Strictly additive: notes accumulate across iterations and the
		// original input parameters are never touched.
		revisionNotes = append(revisionNotes, evaluation.RevisionNotes...)
	}

	result := &types.TaskResult{
		TaskID:         task.TaskID,
		Fingerprint:    fp,
		Disposition:    disposition,
		Artifact:       &artifact,
		Evaluation:     evaluation,
		SessionHistory: history,
		CompletedAt:    time.Now(),
	}

	if err := c.dispatch(ctx, task, skill, result); err != nil {
		return nil, err
	}

	return result, nil
}

// runCouncil performs one iteration's paid agent calls: budget admission,
// orchestrator, then each worker role, committing actual cost.
func (c *Coordinator) runCouncil(ctx context.Context, task types.Task, skill *types.Skill, bundle *types.ContextBundle, revisionNotes []string) (types.Artifact, []types.AgentInvocation, error) {
	plannedCalls := int64(1 + len(skill.WorkerRoles))
	estimate := skill.EstimatedUnitsPerCall * plannedCalls

	reservation, err := c.ledger.Reserve(ctx, task.ClientID, estimate)
	if err != nil {
		return types.Artifact{}, nil, err
	}

	var (
		invocations []types.AgentInvocation
		actualUnits int64
		artifact    types.Artifact
	)

	settle := func() {
		if actualUnits > 0 {
			if err := c.ledger.Commit(ctx, reservation, actualUnits); err != nil {
				log.Printf("Warning: budget commit failed for client %s: %v", task.ClientID, err)
			}
		} else {
			c.ledger.Cancel(reservation)
		}
	}

	calls := []struct {
		role   types.AgentRole
		prompt string
	}{
		{types.RoleOrchestrator, c.buildPrompt(task, skill, "plan", revisionNotes)},
	}
	for _, worker := range skill.WorkerRoles {
		calls = append(calls, struct {
			role   types.AgentRole
			prompt string
		}{types.RoleWorker, c.buildPrompt(task, skill, worker, revisionNotes)})
	}

	for _, call := range calls {
		resp, err := c.invokeWithRetry(ctx, agent.Request{
			Role:            call.role,
			Prompt:          call.prompt,
			InputParameters: task.InputParameters,
			Bundle:          bundle,
			RevisionNotes:   revisionNotes,
		})
		if err != nil {
			settle()
			return types.Artifact{}, invocations, err
		}

		actualUnits += resp.CostUnits
		invocations = append(invocations, types.AgentInvocation{
			Role:      call.role,
			Model:     resp.Model,
			CostUnits: resp.CostUnits,
		})
		artifact = resp.Artifact
	}

	settle()
	return artifact, invocations, nil
}

// scoreArtifact runs one iteration's evaluation under the same budget
// admission as generation: agent-scored dimensions are paid calls, so
// their estimate is reserved before the evaluator runs and the actual
// cost is committed after, even when scoring itself failed partway.
func (c *Coordinator) scoreArtifact(ctx context.Context, task types.Task, skill *types.Skill, sessionID string, artifact types.Artifact) (*types.Evaluation, []types.AgentInvocation, error) {
	var reservation *budget.Reservation
	if planned := int64(evaluate.PlannedAgentCalls(skill)); planned > 0 {
		res, err := c.ledger.Reserve(ctx, task.ClientID, planned*skill.EstimatedUnitsPerCall)
		if err != nil {
			return nil, nil, err
		}
		reservation = res
	}

	evaluation, invocations, err := c.evaluator.Evaluate(ctx, sessionID, artifact, skill)

	if reservation != nil {
		var actualUnits int64
		for _, inv := range invocations {
			actualUnits += inv.CostUnits
		}
		if actualUnits > 0 {
			if cerr := c.ledger.Commit(ctx, reservation, actualUnits); cerr != nil {
				log.Printf("Warning: budget commit failed for client %s: %v", task.ClientID, cerr)
			}
		} else {
			c.ledger.Cancel(reservation)
		}
	}

	return evaluation, invocations, err
}

// invokeWithRetry wraps one agent call in the per-operation timeout and
// the transient-failure retry budget.
func (c *Coordinator) invokeWithRetry(ctx context.Context, req agent.Request) (*agent.Response, error) {
	return retry.Execute(ctx, func() (*agent.Response, error) {
		callCtx, cancel := c.timeouts.WithTimeout(ctx, "agent-invoke")
		defer cancel()

		resp, err := c.invoker.Invoke(callCtx, req)
		if err != nil {
			if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return nil, errors.Wrap(err, errors.ErrTimeout)
			}
			return nil, err
		}
		return resp, nil
	}, c.retryCfg)
}

// dispatch routes the terminal result to the delivery capability.
func (c *Coordinator) dispatch(ctx context.Context, task types.Task, skill *types.Skill, result *types.TaskResult) error {
	deliverCtx, cancel := c.timeouts.WithTimeout(ctx, "deliver")
	defer cancel()

	switch result.Disposition {
	case types.AutoDeliver:
		receipt, err := c.sink.Deliver(deliverCtx, task, *result.Artifact, skill.Destination)
		if err != nil {
			return errors.Wrap(err, errors.ErrConnectionFailed)
		}
		log.Printf("Task %s delivered to %s (receipt %s)", task.TaskID, skill.Destination, receipt.ReceiptID)
	case types.HumanReview:
		if err := c.sink.StageForReview(deliverCtx, task, *result.Artifact, result.Evaluation); err != nil {
			return errors.Wrap(err, errors.ErrStoreUnavailable)
		}
		log.Printf("Task %s staged for human review", task.TaskID)
	}

	return nil
}

// releaseTerminal converts the lease into its durable record and updates
// the status index. Every exit path of RunTask lands here, so no
// fingerprint is ever left wedged.
func (c *Coordinator) releaseTerminal(ctx context.Context, lease *idempotency.Lease, task types.Task, status idempotency.RecordStatus, errorCode string, result *types.TaskResult) {
	// Release must happen even when the caller's context is already
	// cancelled.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := c.guard.Release(releaseCtx, lease, idempotency.Record{
		Status:    status,
		Result:    result,
		ErrorCode: errorCode,
	}); err != nil {
		log.Printf("Warning: failed to release lease for task %s: %v", task.TaskID, err)
	}

	taskStatus := "failed"
	var disposition types.Disposition
	switch {
	case status == idempotency.RecordCancelled:
		taskStatus = "cancelled"
	case status == idempotency.RecordCompleted && result != nil:
		disposition = result.Disposition
		if disposition == types.HumanReview {
			taskStatus = "needs_review"
		} else {
			taskStatus = "delivered"
		}
	}

	c.trackStatus(releaseCtx, &TaskStatus{
		TaskID:      task.TaskID,
		ClientID:    task.ClientID,
		SkillName:   task.SkillName,
		Fingerprint: lease.Fingerprint,
		Status:      taskStatus,
		Disposition: disposition,
		ErrorCode:   errorCode,
		StartedAt:   task.CreatedAt,
		UpdatedAt:   time.Now(),
	})

	if result != nil {
		path := fmt.Sprintf("clients/%s/tasks/%s", task.ClientID, task.TaskID)
		if err := c.store.SetDoc(releaseCtx, path, result); err != nil {
			log.Printf("Warning: failed to persist result for task %s: %v", task.TaskID, err)
		}
	}
}

// trackStatus updates the in-memory index and the durable one.
func (c *Coordinator) trackStatus(ctx context.Context, status *TaskStatus) {
	c.mu.Lock()
	c.active[status.TaskID] = status
	c.mu.Unlock()

	if err := c.store.SetDoc(ctx, "tasks/"+status.TaskID, status); err != nil {
		log.Printf("Warning: failed to persist status for task %s: %v", status.TaskID, err)
	}
}

// GetTaskStatus returns the current status of a task, consulting the
// in-memory index first and the store for older tasks.
func (c *Coordinator) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	c.mu.RLock()
	status, ok := c.active[taskID]
	c.mu.RUnlock()
	if ok {
		copied := *status
		return &copied, nil
	}

	var stored TaskStatus
	err := c.store.GetDoc(ctx, "tasks/"+taskID, &stored)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errors.Newf(errors.ErrInvalidInput, "unknown task %s", taskID)
		}
		return nil, errors.Wrap(err, errors.ErrStoreUnavailable)
	}
	return &stored, nil
}

// GetBudgetStatus returns the client's current-period spend.
func (c *Coordinator) GetBudgetStatus(ctx context.Context, clientID string) (*types.BudgetStatus, error) {
	return c.ledger.Status(ctx, clientID)
}

// ListReviewQueue returns the artifacts currently staged for human review
// for one client.
func (c *Coordinator) ListReviewQueue(ctx context.Context, clientID string) ([]map[string]interface{}, error) {
	if clientID == "" {
		return nil, errors.New(errors.ErrInvalidInput, "empty client id")
	}

	queryCtx, cancel := c.timeouts.WithTimeout(ctx, "store-read")
	defer cancel()

	path := fmt.Sprintf("clients/%s/review", clientID)
	docs, err := c.store.QueryCollection(queryCtx, path, []store.Filter{
		{Field: "status", Value: "needs_review"},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStoreUnavailable)
	}
	return docs, nil
}

// archiveSession persists one completed session attempt.
func (c *Coordinator) archiveSession(ctx context.Context, clientID string, session types.CouncilSession) {
	path := fmt.Sprintf("clients/%s/sessions/%s", clientID, session.SessionID)
	if err := c.store.SetDoc(ctx, path, session); err != nil {
		log.Printf("Warning: failed to archive session %s: %v", session.SessionID, err)
	}
}

// buildPrompt renders the role prompt: skill, role focus, input
// parameters, and any accumulated revision notes.
func (c *Coordinator) buildPrompt(task types.Task, skill *types.Skill, focus string, revisionNotes []string) string {
	params, _ := json.Marshal(task.InputParameters)

	prompt := fmt.Sprintf("skill=%s focus=%s client=%s params=%s", skill.Name, focus, task.ClientID, params)
	for _, note := range revisionNotes {
		prompt += "\nrevise: " + note
	}
	return prompt
}

func outcomeFor(d types.Disposition) types.SessionOutcome {
	switch d {
	case types.AutoDeliver:
		return types.OutcomeDelivered
	case types.HumanReview:
		return types.OutcomeNeedsReview
	default:
		return types.OutcomeRefined
	}
}
