package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/brandloom/council/pkg/store"
	"github.com/brandloom/council/pkg/types"
)

// PubSubSink publishes deliveries and review notifications to Pub/Sub and
// records receipts in the document store.
type PubSubSink struct {
	client        *pubsub.Client
	store         store.Store
	deliveryTopic string
	reviewTopic   string
}

// NewPubSubSink creates a sink for the project using the given topics.
func NewPubSubSink(ctx context.Context, projectID string, st store.Store, deliveryTopic, reviewTopic string, opts ...option.ClientOption) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}

	return &PubSubSink{
		client:        client,
		store:         st,
		deliveryTopic: deliveryTopic,
		reviewTopic:   reviewTopic,
	}, nil
}

// deliveryMessage is the wire shape downstream connectors consume.
type deliveryMessage struct {
	ReceiptID   string         `json:"receiptId"`
	TaskID      string         `json:"taskId"`
	ClientID    string         `json:"clientId"`
	SkillName   string         `json:"skillName"`
	Destination string         `json:"destination"`
	Artifact    types.Artifact `json:"artifact"`
	DeliveredAt time.Time      `json:"deliveredAt"`
}

// Deliver publishes the artifact and persists the receipt.
func (s *PubSubSink) Deliver(ctx context.Context, task types.Task, artifact types.Artifact, destination string) (*types.DeliveryReceipt, error) {
	receipt := newReceipt(task, destination)

	msg := deliveryMessage{
		ReceiptID:   receipt.ReceiptID,
		TaskID:      task.TaskID,
		ClientID:    task.ClientID,
		SkillName:   task.SkillName,
		Destination: destination,
		Artifact:    artifact,
		DeliveredAt: receipt.DeliveredAt,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery message: %w", err)
	}

	if err := s.publish(ctx, s.deliveryTopic, data, map[string]string{
		"clientId":    task.ClientID,
		"destination": destination,
	}); err != nil {
		return nil, err
	}

	if err := s.store.SetDoc(ctx, receiptPath(task.ClientID, receipt.ReceiptID), receipt); err != nil {
		// The artifact went out; losing the receipt is recoverable from
		// the subscriber side, so log rather than fail the delivery.
		log.Printf("Warning: failed to persist delivery receipt %s: %v", receipt.ReceiptID, err)
	}

	return receipt, nil
}

// StageForReview writes the review document and notifies reviewers.
func (s *PubSubSink) StageForReview(ctx context.Context, task types.Task, artifact types.Artifact, evaluation *types.Evaluation) error {
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

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal review notification: %w", err)
	}

	if err := s.publish(ctx, s.reviewTopic, data, map[string]string{"clientId": task.ClientID}); err != nil {
		// The staged document is the source of truth; the notification
		// is best effort.
		log.Printf("Warning: failed to publish review notification for task %s: %v", task.TaskID, err)
	}

	return nil
}

// publish sends one message, creating the topic on first use.
func (s *PubSubSink) publish(ctx context.Context, topicName string, data []byte, attributes map[string]string) error {
	topic := s.client.Topic(topicName)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check topic existence: %w", err)
	}
	if !exists {
		if _, err := s.client.CreateTopic(ctx, topicName); err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topicName, err)
		}
	}

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topicName, err)
	}

	return nil
}

// Close releases the Pub/Sub client.
func (s *PubSubSink) Close() error {
	return s.client.Close()
}
