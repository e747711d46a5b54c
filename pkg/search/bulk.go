package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultDocType is the mapping type written in action descriptors.
const DefaultDocType = "_doc"

type descriptor struct {
	Index string `json:"_index"`
	Type  string `json:"_type,omitempty"`
	ID    string `json:"_id"`
}

// EncodeBulk writes actions as newline-delimited JSON: a descriptor line
// per action followed by the document line for upserts.
func EncodeBulk(w io.Writer, actions []Action, docType string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, a := range actions {
		if err := encodeAction(enc, a, docType); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

func encodeAction(enc *json.Encoder, a Action, docType string) error {
	switch a.Op {
	case OpIndex:
		if a.Doc == nil {
			return fmt.Errorf("%w: index without document", ErrInvalidAction)
		}
	case OpDelete:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidAction, a.Op)
	}

	line := map[Op]descriptor{a.Op: {Index: a.Index, Type: docType, ID: a.ID}}
	if err := enc.Encode(line); err != nil {
		return err
	}
	if a.Op == OpIndex {
		return enc.Encode(a.Doc)
	}
	return nil
}

// EncodedSize returns the number of bytes a contributes to a bulk body.
func EncodedSize(a Action, docType string) (int, error) {
	var buf bytes.Buffer
	if err := EncodeBulk(&buf, []Action{a}, docType); err != nil {
		return 0, err
	}
	return buf.Len(), nil
}

// BulkItem is the backend's answer for one action.
type BulkItem struct {
	Op     Op
	Index  string
	ID     string
	Status int
	Error  string
}

// Failed reports whether the action was rejected. Deleting a document
// that is already gone is not a failure.
func (i BulkItem) Failed() bool {
	if i.Op == OpDelete && i.Status == http.StatusNotFound {
		return false
	}
	return i.Status >= http.StatusBadRequest
}

// Retryable reports whether resubmitting the action may succeed.
func (i BulkItem) Retryable() bool {
	return RetryableStatus(i.Status)
}

// RetryableStatus is true for throttling and server errors.
func RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// BulkResult is the outcome of one bulk submission.
type BulkResult struct {
	Items []BulkItem
}

// Failures returns the rejected items.
func (r *BulkResult) Failures() []BulkItem {
	if r == nil {
		return nil
	}
	var failed []BulkItem
	for _, it := range r.Items {
		if it.Failed() {
			failed = append(failed, it)
		}
	}
	return failed
}
