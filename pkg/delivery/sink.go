// Package delivery is the persistence/delivery capability the coordinator
// hands finished artifacts to. Auto-delivered artifacts go out on a
// Pub/Sub topic for downstream connectors; review-bound artifacts are
// staged in the store for a human.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brandloom/council/pkg/types"
)

// Sink is what the coordinator sees.
type Sink interface {
	// Deliver ships the artifact to its destination. Only called after
	// an AUTO_DELIVER disposition.
	Deliver(ctx context.Context, task types.Task, artifact types.Artifact, destination string) (*types.DeliveryReceipt, error)

	// StageForReview parks the artifact for human approval, with the
	// evaluation attached for inspection.
	StageForReview(ctx context.Context, task types.Task, artifact types.Artifact, evaluation *types.Evaluation) error
}

// reviewDoc is the staged shape at clients/{id}/review/{taskId}.
type reviewDoc struct {
	TaskID     string            `json:"taskId" firestore:"taskId"`
	ClientID   string            `json:"clientId" firestore:"clientId"`
	SkillName  string            `json:"skillName" firestore:"skillName"`
	Status     string            `json:"status" firestore:"status"`
	Artifact   types.Artifact    `json:"artifact" firestore:"artifact"`
	Evaluation *types.Evaluation `json:"evaluation,omitempty" firestore:"evaluation,omitempty"`
	StagedAt   time.Time         `json:"stagedAt" firestore:"stagedAt"`
}

func newReceipt(task types.Task, destination string) *types.DeliveryReceipt {
	return &types.DeliveryReceipt{
		ReceiptID:   uuid.New().String(),
		TaskID:      task.TaskID,
		Destination: destination,
		DeliveredAt: time.Now(),
	}
}

func receiptPath(clientID, receiptID string) string {
	return fmt.Sprintf("clients/%s/deliveries/%s", clientID, receiptID)
}

func reviewPath(clientID, taskID string) string {
	return fmt.Sprintf("clients/%s/review/%s", clientID, taskID)
}
