// Package store defines the dataset-store collaborator used to persist test
// cases, flat evaluation results, and history records. The store is treated
// as an opaque append/update service; case identity always travels in example
// metadata, never in store-assigned IDs.
package store

import (
	"context"
	"time"
)

type Example struct {
	ID        string
	Dataset   string
	Inputs    map[string]interface{}
	Outputs   map[string]interface{}
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MetaString reads a metadata field, defaulting to "" for missing keys or
// non-string values so callers never branch on the shape of external data.
func (e *Example) MetaString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	if s, ok := e.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// InputString reads an input field with the same defaulting rules.
func (e *Example) InputString(key string) string {
	if e.Inputs == nil {
		return ""
	}
	if s, ok := e.Inputs[key].(string); ok {
		return s
	}
	return ""
}

type ExampleStore interface {
	// CreateExample persists a new example, assigning an ID when empty.
	CreateExample(ctx context.Context, example *Example) error
	// ListExamples returns every example of a dataset in creation order.
	ListExamples(ctx context.Context, dataset string) ([]Example, error)
	// UpdateExample replaces the outputs of an existing example in one call.
	UpdateExample(ctx context.Context, id string, outputs map[string]interface{}) error
}
