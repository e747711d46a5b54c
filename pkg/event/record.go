// Package event decodes object storage change notifications into change
// records.
package event

import (
	"path"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// Kind is the kind of change a record describes.
type Kind int

const (
	// KindIgnored marks records that produce no index action (restores,
	// replication, delete markers, ...).
	KindIgnored Kind = iota
	// KindPut marks an object creation or overwrite.
	KindPut
	// KindDelete marks a permanent object deletion.
	KindDelete
)

// String returns the name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindDelete:
		return "delete"
	default:
		return "ignored"
	}
}

// KindOf maps a storage event name to a Kind. Names are accepted with or
// without the "s3:" prefix.
func KindOf(name string) Kind {
	name = strings.TrimPrefix(name, "s3:")
	switch {
	case strings.HasPrefix(name, "ObjectCreated:"):
		return KindPut
	case name == "ObjectRemoved:Delete":
		return KindDelete
	default:
		// ObjectRemoved:DeleteMarkerCreated leaves prior versions readable,
		// so nothing is removed from the index.
		return KindIgnored
	}
}

// ChangeRecord is one decoded object change.
type ChangeRecord struct {
	Bucket    string
	Key       string
	Kind      Kind
	Name      string
	ETag      string
	VersionID string
	Size      int64
	EventTime time.Time
	Ext       string
}

// FromS3 builds a ChangeRecord from a raw notification record.
func FromS3(r events.S3EventRecord) ChangeRecord {
	name := strings.TrimPrefix(r.EventName, "s3:")
	key := DecodeKey(r.S3.Object.Key)

	rec := ChangeRecord{
		Bucket:    DecodeBucket(r.S3.Bucket.Name),
		Key:       key,
		Kind:      KindOf(name),
		Name:      name,
		VersionID: r.S3.Object.VersionID,
		Size:      r.S3.Object.Size,
		EventTime: r.EventTime,
		Ext:       Extension(key),
	}

	// Storage never reports an etag on deletes; drop anything that looks
	// like one so a tombstone can't be mistaken for a conditional read.
	if rec.Kind != KindDelete {
		rec.ETag = strings.Trim(r.S3.Object.ETag, `"`)
	}

	return rec
}

// DecodeKey reverses the form encoding storage applies to keys in
// notifications ("+" is a space). Malformed escapes are kept as they are
// while the valid ones around them are decoded.
func DecodeKey(raw string) string {
	return unescape(raw, true)
}

// DecodeBucket percent-decodes a bucket name. "+" is kept.
func DecodeBucket(raw string) string {
	return unescape(raw, false)
}

func unescape(s string, plusIsSpace bool) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		case c == '+' && plusIsSpace:
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return strings.ToValidUTF8(b.String(), "\uFFFD")
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}

// Extension returns the lower-cased two-level extension of key, e.g.
// ".csv.gz" for "dir/Table.CSV.gz" and ".txt" for "notes.txt".
func Extension(key string) string {
	base := path.Base(key)
	outer := suffix(base)
	if outer == "" {
		return ""
	}
	inner := suffix(strings.TrimSuffix(base, outer))
	return strings.ToLower(inner + outer)
}

// suffix returns the final ".ext" of name, ignoring leading-dot names
// like ".bashrc" and names ending in a dot.
func suffix(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return name[i:]
}
