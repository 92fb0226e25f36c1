package types

import (
	"time"
)

// Task is one unit of orchestrated work. Immutable once created.
type Task struct {
	TaskID          string                 `json:"taskId" firestore:"taskId"`
	ClientID        string                 `json:"clientId" firestore:"clientId"`
	SkillName       string                 `json:"skillName" firestore:"skillName"`
	InputParameters map[string]interface{} `json:"inputParameters" firestore:"inputParameters"`
	CreatedAt       time.Time              `json:"createdAt" firestore:"createdAt"`
}

// AgentRole identifies the function an agent plays inside a council.
type AgentRole string

const (
	RoleOrchestrator AgentRole = "orchestrator"
	RoleWorker       AgentRole = "worker"
	RoleEvaluator    AgentRole = "evaluator"
)

// AgentInvocation records one paid agent call inside a session.
type AgentInvocation struct {
	Role      AgentRole `json:"role" firestore:"role"`
	Model     string    `json:"model" firestore:"model"`
	CostUnits int64     `json:"costUnits" firestore:"costUnits"`
}

// SessionOutcome is the terminal state of a CouncilSession.
type SessionOutcome string

const (
	OutcomeDelivered   SessionOutcome = "delivered"
	OutcomeNeedsReview SessionOutcome = "needs_review"
	OutcomeRefined     SessionOutcome = "refined"
	OutcomeFailed      SessionOutcome = "failed"
	OutcomeCancelled   SessionOutcome = "cancelled"
)

// CouncilSession is one execution attempt of a Task.
type CouncilSession struct {
	SessionID     string            `json:"sessionId" firestore:"sessionId"`
	TaskID        string            `json:"taskId" firestore:"taskId"`
	Fingerprint   string            `json:"fingerprint" firestore:"fingerprint"`
	AgentsInvoked []AgentInvocation `json:"agentsInvoked" firestore:"agentsInvoked"`
	Iteration     int               `json:"iteration" firestore:"iteration"`
	StartedAt     time.Time         `json:"startedAt" firestore:"startedAt"`
	EndedAt       time.Time         `json:"endedAt" firestore:"endedAt"`
	Outcome       SessionOutcome    `json:"outcome" firestore:"outcome"`
}

// SliceSpec declares one context slice a skill requires, and the tier at
// which it becomes available.
type SliceSpec struct {
	Name     string `json:"name" firestore:"name"`
	Tier     int    `json:"tier" firestore:"tier"` // 1 = minimal, 2 = standard, 3 = exhaustive
	Required bool   `json:"required" firestore:"required"`
}

// ContextSlice is one named piece of loaded context.
type ContextSlice struct {
	Name      string      `json:"name"`
	Tier      int         `json:"tier"`
	Payload   interface{} `json:"payload"`
	FetchedAt time.Time   `json:"fetchedAt"`
}

// ContextBundle is the assembled, per-session, read-only input context for a
// task. Slices preserves declaration order.
type ContextBundle struct {
	ClientID  string         `json:"clientId"`
	SkillName string         `json:"skillName"`
	Slices    []ContextSlice `json:"slices"`
}

// Slice returns the named slice, if present.
func (b *ContextBundle) Slice(name string) (ContextSlice, bool) {
	for _, s := range b.Slices {
		if s.Name == name {
			return s, true
		}
	}
	return ContextSlice{}, false
}

// MaxTier reports the highest tier any loaded slice came from.
func (b *ContextBundle) MaxTier() int {
	max := 0
	for _, s := range b.Slices {
		if s.Tier > max {
			max = s.Tier
		}
	}
	return max
}

// Evaluation is the scored quality assessment of one produced artifact.
type Evaluation struct {
	SessionID       string             `json:"sessionId" firestore:"sessionId"`
	DimensionScores map[string]float64 `json:"dimensionScores" firestore:"dimensionScores"`
	OverallScore    float64            `json:"overallScore" firestore:"overallScore"`
	Passed          bool               `json:"passed" firestore:"passed"`
	RevisionNotes   []string           `json:"revisionNotes" firestore:"revisionNotes"`
}

// Disposition is the terminal routing decision for a session's artifact.
type Disposition string

const (
	AutoDeliver Disposition = "AUTO_DELIVER"
	HumanReview Disposition = "HUMAN_REVIEW"
	AutoRefine  Disposition = "AUTO_REFINE"
)

// Artifact is a produced piece of content plus its generation metadata.
type Artifact struct {
	Body     string                 `json:"body" firestore:"body"`
	Format   string                 `json:"format" firestore:"format"`
	Metadata map[string]interface{} `json:"metadata,omitempty" firestore:"metadata,omitempty"`
}

// Skill is the declarative task template read from the document store. The
// engine never hardcodes skill-specific logic; everything it needs to run a
// council is here.
type Skill struct {
	Name             string             `json:"name" firestore:"name"`
	RequiredSlices   []SliceSpec        `json:"requiredSlices" firestore:"requiredSlices"`
	MaxIterations    int                `json:"maxIterations" firestore:"maxIterations"`
	DimensionWeights map[string]float64 `json:"dimensionWeights" firestore:"dimensionWeights"`
	Threshold        float64            `json:"threshold" firestore:"threshold"`
	HardFloor        float64            `json:"hardFloor" firestore:"hardFloor"`
	WorkerRoles      []string           `json:"workerRoles" firestore:"workerRoles"`
	// MaxResultAgeSeconds bounds idempotency cache reuse. Zero means a
	// completed fingerprint is never reused and the work always reruns.
	MaxResultAgeSeconds int64 `json:"maxResultAgeSeconds" firestore:"maxResultAgeSeconds"`
	// EstimatedUnitsPerCall is the budget reservation made before each
	// paid agent invocation.
	EstimatedUnitsPerCall int64  `json:"estimatedUnitsPerCall" firestore:"estimatedUnitsPerCall"`
	Destination           string `json:"destination" firestore:"destination"`
}

// MaxResultAge returns the freshness window as a duration.
func (s *Skill) MaxResultAge() time.Duration {
	return time.Duration(s.MaxResultAgeSeconds) * time.Second
}

// TaskResult is what the engine hands back to its caller.
type TaskResult struct {
	TaskID         string           `json:"taskId" firestore:"taskId"`
	Fingerprint    string           `json:"fingerprint" firestore:"fingerprint"`
	Disposition    Disposition      `json:"disposition" firestore:"disposition"`
	Artifact       *Artifact        `json:"artifact,omitempty" firestore:"artifact,omitempty"`
	Evaluation     *Evaluation      `json:"evaluation,omitempty" firestore:"evaluation,omitempty"`
	SessionHistory []CouncilSession `json:"sessionHistory" firestore:"sessionHistory"`
	CompletedAt    time.Time        `json:"completedAt" firestore:"completedAt"`
	// Reused is true when the result came from the idempotency cache
	// instead of a fresh execution.
	Reused bool `json:"reused" firestore:"reused"`
}

// BudgetStatus is the read-only view of one client's period spend.
type BudgetStatus struct {
	ClientID      string `json:"clientId" firestore:"clientId"`
	Period        string `json:"period" firestore:"period"`
	SpentUnits    int64  `json:"spentUnits" firestore:"spentUnits"`
	ReservedUnits int64  `json:"reservedUnits" firestore:"reservedUnits"`
	LimitUnits    int64  `json:"limitUnits" firestore:"limitUnits"`
}

// DeliveryReceipt confirms a delivered artifact.
type DeliveryReceipt struct {
	ReceiptID   string    `json:"receiptId" firestore:"receiptId"`
	TaskID      string    `json:"taskId" firestore:"taskId"`
	Destination string    `json:"destination" firestore:"destination"`
	DeliveredAt time.Time `json:"deliveredAt" firestore:"deliveredAt"`
}
