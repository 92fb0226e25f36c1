// Package store provides the document store capability the engine persists
// through. Paths are hierarchical, slash-separated, and scoped per client
// (clients/{clientId}/...).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetDoc when no document exists at the path.
var ErrNotFound = errors.New("document not found")

// IsNotFound reports whether err means the document was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Filter is a single equality constraint on a collection query.
type Filter struct {
	Field string
	Value interface{}
}

// Store is the engine's view of the document store.
type Store interface {
	// GetDoc reads the document at path into dest. Returns ErrNotFound
	// when absent.
	GetDoc(ctx context.Context, path string, dest interface{}) error

	// SetDoc writes data at path, creating or replacing the document.
	SetDoc(ctx context.Context, path string, data interface{}) error

	// QueryCollection returns the raw data of every document in the
	// collection at path matching all filters.
	QueryCollection(ctx context.Context, path string, filters []Filter) ([]map[string]interface{}, error)

	// Close releases any underlying clients.
	Close() error
}
