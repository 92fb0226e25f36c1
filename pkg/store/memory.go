package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used for tests and local runs. Writes
// are atomic per-path: a reader never observes a half-written document.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// GetDoc reads the document at path into dest.
func (s *MemoryStore) GetDoc(ctx context.Context, path string, dest interface{}) error {
	s.mu.RLock()
	raw, ok := s.docs[path]
	s.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", path, err)
	}
	return nil
}

// SetDoc writes data at path. The document is serialized outside the lock
// and swapped in whole.
func (s *MemoryStore) SetDoc(ctx context.Context, path string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", path, err)
	}

	s.mu.Lock()
	s.docs[path] = raw
	s.mu.Unlock()
	return nil
}

// QueryCollection returns every document directly under path matching all
// filters.
func (s *MemoryStore) QueryCollection(ctx context.Context, path string, filters []Filter) ([]map[string]interface{}, error) {
	prefix := strings.TrimSuffix(path, "/") + "/"

	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []map[string]interface{}
	for docPath, raw := range s.docs {
		if !strings.HasPrefix(docPath, prefix) {
			continue
		}
		// Only direct children of the collection
		if strings.Contains(strings.TrimPrefix(docPath, prefix), "/") {
			continue
		}

		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document %s: %w", docPath, err)
		}

		if matchesFilters(data, filters) {
			docs = append(docs, data)
		}
	}

	return docs, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func matchesFilters(data map[string]interface{}, filters []Filter) bool {
	for _, f := range filters {
		if !reflect.DeepEqual(normalize(data[f.Field]), normalize(f.Value)) {
			return false
		}
	}
	return true
}

// normalize round-trips a value through JSON so ints and floats compare
// the same way they are stored.
func normalize(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
