package search

import "errors"

// Sentinel errors shared by the sink adapters.
var (
	ErrInvalidAction      = errors.New("invalid bulk action")
	ErrBackendUnavailable = errors.New("search backend unavailable")
	ErrIndexingFailed     = errors.New("failed to index document")
)

// Error is a search backend error with the operation that failed.
type Error struct {
	Op  string
	Err error
	Msg string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Op + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ProviderType names a search backend.
type ProviderType string

const (
	ProviderTypeElastic     ProviderType = "elastic"
	ProviderTypeBleve       ProviderType = "bleve"
	ProviderTypeMeilisearch ProviderType = "meilisearch"
	ProviderTypeAlgolia     ProviderType = "algolia"
)
