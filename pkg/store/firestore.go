package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore backs the Store interface with Cloud Firestore.
type FirestoreStore struct {
	ProjectID string
	client    *firestore.Client
}

// NewFirestoreStore creates a Firestore-backed store for the project.
func NewFirestoreStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreStore{
		ProjectID: projectID,
		client:    client,
	}, nil
}

// GetDoc reads the document at path into dest.
func (s *FirestoreStore) GetDoc(ctx context.Context, path string, dest interface{}) error {
	snap, err := s.client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get document %s: %w", path, err)
	}

	if err := snap.DataTo(dest); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", path, err)
	}

	return nil
}

// SetDoc writes data at path, replacing any existing document.
func (s *FirestoreStore) SetDoc(ctx context.Context, path string, data interface{}) error {
	if _, err := s.client.Doc(path).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to store document %s: %w", path, err)
	}
	return nil
}

// QueryCollection returns the data of every document in the collection at
// path matching all filters.
func (s *FirestoreStore) QueryCollection(ctx context.Context, path string, filters []Filter) ([]map[string]interface{}, error) {
	query := s.client.Collection(path).Query
	for _, f := range filters {
		query = query.Where(f.Field, "==", f.Value)
	}

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", path, err)
	}

	docs := make([]map[string]interface{}, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, snap.Data())
	}

	return docs, nil
}

// Close closes the Firestore client.
func (s *FirestoreStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close Firestore client: %w", err)
	}
	return nil
}
