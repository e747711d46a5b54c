package search

import "context"

// Sink submits bulk actions to a search backend.
type Sink interface {
	// Name returns the provider name.
	Name() string

	// Bulk submits actions in order. A non-nil error means the request as
	// a whole failed and none of the actions may be assumed applied;
	// otherwise per-action outcomes are reported in the result.
	Bulk(ctx context.Context, actions []Action) (*BulkResult, error)

	// Close releases backend resources.
	Close() error
}
