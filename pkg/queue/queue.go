// Package queue accumulates index and delete actions for one notification
// batch and flushes them to a search.Sink in bounded bulk requests.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp-forge/bucketsearch/pkg/event"
	"github.com/hashicorp-forge/bucketsearch/pkg/metrics"
	"github.com/hashicorp-forge/bucketsearch/pkg/search"
)

const (
	DefaultMaxActions = 1000
	DefaultMaxBytes   = 5 << 20
)

// Fields describes one object version as seen by the orchestrator.
type Fields struct {
	Bucket       string
	Key          string
	Ext          string
	Event        string
	ETag         string
	VersionID    string
	Size         *int64
	LastModified time.Time
	Metadata     map[string]string
	Text         string
}

// Config holds configuration for a Queue.
type Config struct {
	Sink search.Sink

	// MaxActions and MaxBytes bound a single bulk request. An action
	// larger than MaxBytes is still sent, alone.
	MaxActions int
	MaxBytes   int

	AnnotationKey string
	Logger        hclog.Logger
	Metrics       *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Queue buffers actions until Flush.
type Queue struct {
	sink          search.Sink
	maxActions    int
	maxBytes      int
	annotationKey string
	logger        hclog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	mu      sync.Mutex
	pending []pendingAction
}

type pendingAction struct {
	action search.Action
	size   int
}

// FlushResult summarizes a flush.
type FlushResult struct {
	Requests  int
	Submitted int

	// Dropped are non-retryable item failures. They are logged and not
	// reported as an error.
	Dropped []search.BulkItem
}

// New creates a new Queue.
func New(cfg Config) (*Queue, error) {
	if cfg.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = DefaultMaxActions
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.AnnotationKey == "" {
		cfg.AnnotationKey = DefaultAnnotationKey
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Queue{
		sink:          cfg.Sink,
		maxActions:    cfg.MaxActions,
		maxBytes:      cfg.MaxBytes,
		annotationKey: cfg.AnnotationKey,
		logger:        cfg.Logger.Named("document-queue"),
		metrics:       cfg.Metrics,
		now:           cfg.Now,
	}, nil
}

// Append builds the document for f and queues an upsert for puts or a
// tombstone delete for deletes. It performs no I/O.
func (q *Queue) Append(kind event.Kind, f Fields) error {
	var act search.Action
	switch kind {
	case event.KindPut:
		act = search.IndexAction(f.Bucket, q.document(f))
	case event.KindDelete:
		act = search.DeleteAction(f.Bucket, search.Identity(f.Key, f.VersionID))
		act.Doc = q.tombstone(f)
	default:
		return fmt.Errorf("%w: cannot append %s event for %s", search.ErrInvalidAction, kind, f.Key)
	}

	size, err := search.EncodedSize(act, search.DefaultDocType)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, pendingAction{action: act, size: size})
	return nil
}

func (q *Queue) document(f Fields) *search.Document {
	now := q.now().UTC()
	lastModified := f.LastModified
	if lastModified.IsZero() {
		lastModified = now
	}

	doc := &search.Document{
		Bucket:       f.Bucket,
		Key:          f.Key,
		Ext:          f.Ext,
		ETag:         f.ETag,
		VersionID:    f.VersionID,
		Size:         f.Size,
		LastModified: lastModified,
		Event:        f.Event,
		Content:      f.Text,
		Updated:      now,
	}

	if raw, ok := annotationFrom(f.Metadata, q.annotationKey); ok {
		ann, err := DecodeAnnotation(raw)
		if err != nil {
			q.logger.Warn("ignoring malformed annotation",
				"bucket", f.Bucket,
				"key", f.Key,
				"error", err,
			)
		}
		doc.Comment = ann.Comment
		doc.Target = ann.Target
		doc.MetaText = ann.MetaText()
	}
	return doc
}

func (q *Queue) tombstone(f Fields) *search.Document {
	now := q.now().UTC()
	return &search.Document{
		Bucket:       f.Bucket,
		Key:          f.Key,
		Ext:          f.Ext,
		VersionID:    f.VersionID,
		LastModified: now,
		Event:        f.Event,
		Updated:      now,
	}
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Actions returns a copy of the pending actions in append order.
func (q *Queue) Actions() []search.Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]search.Action, len(q.pending))
	for i, p := range q.pending {
		out[i] = p.action
	}
	return out
}

// Flush submits pending actions in order, one bounded chunk per request.
// A request failure stops the flush and leaves the unsent actions queued.
// Retryable item failures are returned together after every chunk has
// been sent.
func (q *Queue) Flush(ctx context.Context) (*FlushResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := &FlushResult{}
	var merr *multierror.Error

	for len(q.pending) > 0 {
		n := q.nextChunk()
		chunk := make([]search.Action, n)
		for i := range chunk {
			chunk[i] = q.pending[i].action
		}

		start := time.Now()
		res, err := q.sink.Bulk(ctx, chunk)
		q.metrics.ObserveFlush(time.Since(start))
		result.Requests++
		if err != nil {
			q.logger.Error("bulk request failed",
				"sink", q.sink.Name(),
				"actions", n,
				"remaining", len(q.pending),
				"error", err,
			)
			return result, fmt.Errorf("bulk request to %s failed: %w", q.sink.Name(), err)
		}

		q.pending = q.pending[n:]
		result.Submitted += n

		for _, item := range res.Items {
			q.metrics.BulkItem(string(item.Op), item.Status)
			if !item.Failed() {
				continue
			}
			if item.Retryable() {
				merr = multierror.Append(merr, fmt.Errorf("%w: %s %s/%s: status %d: %s",
					search.ErrIndexingFailed, item.Op, item.Index, item.ID, item.Status, item.Error))
				continue
			}
			q.logger.Warn("dropping rejected action",
				"op", item.Op,
				"index", item.Index,
				"id", item.ID,
				"status", item.Status,
				"error", item.Error,
			)
			result.Dropped = append(result.Dropped, item)
		}
	}

	q.pending = nil
	if err := merr.ErrorOrNil(); err != nil {
		return result, err
	}

	q.logger.Debug("flush complete",
		"requests", result.Requests,
		"submitted", result.Submitted,
		"dropped", len(result.Dropped),
	)
	return result, nil
}

// nextChunk returns how many leading pending actions fit in one request.
func (q *Queue) nextChunk() int {
	n, bytes := 0, 0
	for _, p := range q.pending {
		if n == q.maxActions {
			break
		}
		if n > 0 && bytes+p.size > q.maxBytes {
			break
		}
		n++
		bytes += p.size
	}
	return n
}
