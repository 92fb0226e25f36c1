package delivery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brandloom/council/pkg/store"
	"github.com/brandloom/council/pkg/types"
)

// StoreSink is a Sink that persists through the document store only, with
// no message bus. It backs memory-store mode and tests.
type StoreSink struct {
	store store.Store
}

// NewStoreSink creates a store-only sink.
func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{store: st}
}

// Deliver records the delivered artifact and its receipt.
func (s *StoreSink) Deliver(ctx context.Context, task types.Task, artifact types.Artifact, destination string) (*types.DeliveryReceipt, error) {
	receipt := newReceipt(task, destination)

	delivered := struct {
		TaskID      string         `json:"taskId"`
		Destination string         `json:"destination"`
		Artifact    types.Artifact `json:"artifact"`
		DeliveredAt time.Time      `json:"deliveredAt"`
	}{task.TaskID, destination, artifact, receipt.DeliveredAt}

	path := fmt.Sprintf("clients/%s/delivered/%s", task.ClientID, task.TaskID)
	if err := s.store.SetDoc(ctx, path, delivered); err != nil {
		return nil, fmt.Errorf("failed to persist delivered artifact: %w", err)
	}

	if err := s.store.SetDoc(ctx, receiptPath(task.ClientID, receipt.ReceiptID), receipt); err != nil {
		log.Printf("Warning: failed to persist delivery receipt %s: %v", receipt.ReceiptID, err)
	}

	return receipt, nil
}

// StageForReview writes the review document.
func (s *StoreSink) StageForReview(ctx context.Context, task types.Task, artifact types.Artifact, evaluation *types.Evaluation) error {
	doc := reviewDoc{
		TaskID:     task.TaskID,
		ClientID:   task.ClientID,
		SkillName:  task.SkillName,
		Status:     "needs_review",
		Artifact:   artifact,
		Evaluation: evaluation,
		StagedAt:   time.Now(),
	}

	if err := s.store.SetDoc(ctx, reviewPath(task.ClientID, task.TaskID), doc); err != nil {
		return fmt.Errorf("failed to stage artifact for review: %w", err)
	}
	return nil
}
