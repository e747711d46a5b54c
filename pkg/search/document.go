// Package search defines the indexed document, the bulk actions submitted
// for it, and the Sink interface implemented by each search backend
// adapter.
package search

import "time"

// Op is a bulk action type.
type Op string

const (
	OpIndex  Op = "index"
	OpDelete Op = "delete"
)

// Document is the searchable representation of one object version.
type Document struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Ext          string    `json:"ext"`
	ETag         string    `json:"etag,omitempty"`
	VersionID    string    `json:"version_id,omitempty"`
	Size         *int64    `json:"size,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Event        string    `json:"event"`
	Content      string    `json:"content"`
	Comment      string    `json:"comment"`
	Target       string    `json:"target"`
	MetaText     string    `json:"meta_text"`
	Updated      time.Time `json:"updated"`
}

// ID returns the document identity.
func (d *Document) ID() string {
	return Identity(d.Key, d.VersionID)
}

// Identity is key:versionID, or the key alone for unversioned objects.
// Redelivered notifications produce the same identity, so resubmitting an
// action overwrites instead of duplicating.
func Identity(key, versionID string) string {
	if versionID == "" {
		return key
	}
	return key + ":" + versionID
}

// Action is one entry of a bulk request. Doc is nil for deletes.
type Action struct {
	Op    Op
	Index string
	ID    string
	Doc   *Document
}

// IndexAction upserts doc into index.
func IndexAction(index string, doc *Document) Action {
	return Action{Op: OpIndex, Index: index, ID: doc.ID(), Doc: doc}
}

// DeleteAction removes the document with identity id from index.
func DeleteAction(index, id string) Action {
	return Action{Op: OpDelete, Index: index, ID: id}
}
