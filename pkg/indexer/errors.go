package indexer

import "fmt"

// DeferredError is the content failure of the last record of a delivery
// whose text could not be read. It is returned after the documents have
// been flushed, so the index holds an entry for every record while the
// transport still redelivers.
type DeferredError struct {
	Bucket    string
	Key       string
	VersionID string
	Err       error
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("content extraction failed for s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *DeferredError) Unwrap() error {
	return e.Err
}
