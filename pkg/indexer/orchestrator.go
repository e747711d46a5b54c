// Package indexer turns change-notification deliveries into search index
// updates.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/hashicorp-forge/bucketsearch/pkg/event"
	"github.com/hashicorp-forge/bucketsearch/pkg/extract"
	"github.com/hashicorp-forge/bucketsearch/pkg/metrics"
	"github.com/hashicorp-forge/bucketsearch/pkg/objectstore"
	"github.com/hashicorp-forge/bucketsearch/pkg/queue"
	"github.com/hashicorp-forge/bucketsearch/pkg/search"
)

const (
	DefaultWorkers      = 8
	DefaultFlushReserve = 10 * time.Second
)

// Record outcomes reported to metrics.
const (
	outcomeIndexed  = "indexed"
	outcomeDeleted  = "deleted"
	outcomeIgnored  = "ignored"
	outcomeSkipped  = "skipped"
	outcomeDeferred = "deferred"
	outcomeTest     = "test"
)

// Orchestrator handles notification deliveries.
type Orchestrator struct {
	accessor     *objectstore.Accessor
	pipeline     *extract.Pipeline
	sink         search.Sink
	queueConfig  queue.Config
	workers      int
	flushReserve time.Duration
	logger       hclog.Logger
	metrics      *metrics.Metrics
}

// Option is a functional option for creating an Orchestrator.
type Option func(*Orchestrator)

// WithAccessor sets the object store accessor.
func WithAccessor(a *objectstore.Accessor) Option {
	return func(o *Orchestrator) {
		o.accessor = a
	}
}

// WithPipeline sets the extraction pipeline. Its fetcher is replaced by
// the accessor for every delivery.
func WithPipeline(p *extract.Pipeline) Option {
	return func(o *Orchestrator) {
		o.pipeline = p
	}
}

// WithSink sets the search backend.
func WithSink(s search.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithQueueConfig sets the bulk limits and annotation key. Sink, logger
// and metrics are filled in by the orchestrator.
func WithQueueConfig(cfg queue.Config) Option {
	return func(o *Orchestrator) {
		o.queueConfig = cfg
	}
}

// WithWorkers sets how many records of a batch are extracted at once.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		o.workers = n
	}
}

// WithFlushReserve sets how much of the invocation's time budget is kept
// for flushing. Object store retries stop waiting before it.
func WithFlushReserve(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.flushReserve = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		workers:      DefaultWorkers,
		flushReserve: DefaultFlushReserve,
		logger:       hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.accessor == nil {
		return nil, fmt.Errorf("object accessor is required")
	}
	if o.pipeline == nil {
		return nil, fmt.Errorf("extraction pipeline is required")
	}
	if o.sink == nil {
		return nil, fmt.Errorf("search sink is required")
	}
	if o.workers <= 0 {
		o.workers = DefaultWorkers
	}
	if o.flushReserve < 0 {
		o.flushReserve = 0
	}

	o.logger = o.logger.Named("indexer")
	o.queueConfig.Sink = o.sink
	o.queueConfig.Logger = o.logger
	o.queueConfig.Metrics = o.metrics
	return o, nil
}

// delivery is the per-call state: a deadline-bound accessor and the
// pipeline reading through it.
type delivery struct {
	accessor *objectstore.Accessor
	pipeline *extract.Pipeline
}

// HandleDelivery processes the message bodies of one delivery. A malformed
// body fails the delivery before any record is processed. Each wrapped
// batch is extracted and flushed in turn. When every flush succeeded but
// some record's content could not be read, a *DeferredError for the last
// such record is returned.
func (o *Orchestrator) HandleDelivery(ctx context.Context, bodies []string) error {
	batches, err := event.ParseDelivery(bodies)
	if err != nil {
		o.logger.Error("rejecting malformed delivery", "bodies", len(bodies), "error", err)
		return err
	}

	d := delivery{accessor: o.accessor.WithDeadline(o.retryDeadline(ctx))}
	d.pipeline = o.pipeline.WithFetcher(d.accessor)

	var deferred *DeferredError
	for i, batch := range batches {
		if batch.Test {
			o.logger.Debug("skipping test event", "body", i)
			o.metrics.RecordOutcome(outcomeTest)
			continue
		}

		last, err := o.handleBatch(ctx, d, batch)
		if err != nil {
			return fmt.Errorf("batch %d: %w", i, err)
		}
		if last != nil {
			deferred = last
		}
	}

	if deferred != nil {
		o.logger.Warn("delivery indexed with content failures", "error", deferred)
		return deferred
	}
	return nil
}

// retryDeadline leaves flushReserve of the context's budget for flushing.
func (o *Orchestrator) retryDeadline(ctx context.Context) time.Time {
	dl, ok := ctx.Deadline()
	if !ok {
		return time.Time{}
	}
	return dl.Add(-o.flushReserve)
}

// outcome is what one record contributes to the queue.
type outcome struct {
	skip   bool
	kind   event.Kind
	fields queue.Fields
	// err is the content failure to defer, if any.
	err error
}

func (o *Orchestrator) handleBatch(ctx context.Context, d delivery, batch event.Batch) (*DeferredError, error) {
	outcomes := make([]outcome, len(batch.Records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, rec := range batch.Records {
		i, rec := i, rec
		g.Go(func() error {
			out, err := o.processRecord(gctx, d, rec)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	q, err := queue.New(o.queueConfig)
	if err != nil {
		return nil, err
	}

	var deferred *DeferredError
	for i, out := range outcomes {
		if out.skip {
			continue
		}
		if err := q.Append(out.kind, out.fields); err != nil {
			return nil, err
		}
		if out.err != nil {
			rec := batch.Records[i]
			deferred = &DeferredError{Bucket: rec.Bucket, Key: rec.Key, VersionID: rec.VersionID, Err: out.err}
		}
	}

	res, err := q.Flush(ctx)
	if err != nil {
		return nil, err
	}

	o.logger.Info("batch flushed",
		"records", len(batch.Records),
		"submitted", res.Submitted,
		"requests", res.Requests,
		"dropped", len(res.Dropped),
	)
	return deferred, nil
}

// processRecord fetches and extracts one record. An error fails the
// delivery; recoverable failures are reported in the outcome.
func (o *Orchestrator) processRecord(ctx context.Context, d delivery, rec event.ChangeRecord) (outcome, error) {
	fields := queue.Fields{
		Bucket:    rec.Bucket,
		Key:       rec.Key,
		Ext:       rec.Ext,
		Event:     rec.Name,
		ETag:      rec.ETag,
		VersionID: rec.VersionID,
	}

	switch rec.Kind {
	case event.KindDelete:
		o.metrics.RecordOutcome(outcomeDeleted)
		return outcome{kind: event.KindDelete, fields: fields}, nil
	case event.KindPut:
	default:
		o.logger.Debug("ignoring event", "event", rec.Name, "bucket", rec.Bucket, "key", rec.Key)
		o.metrics.RecordOutcome(outcomeIgnored)
		return outcome{skip: true}, nil
	}

	meta, err := d.accessor.Head(ctx, objectstore.ObjectRef{
		Bucket:    rec.Bucket,
		Key:       rec.Key,
		ETag:      rec.ETag,
		VersionID: rec.VersionID,
		Size:      rec.Size,
	})
	if err != nil {
		if ctx.Err() == nil && objectstore.KindOf(err).Permanent() {
			o.logger.Warn("skipping unreadable object",
				"bucket", rec.Bucket,
				"key", rec.Key,
				"version_id", rec.VersionID,
				"error", err,
			)
			o.metrics.RecordOutcome(outcomeSkipped)
			return outcome{skip: true}, nil
		}
		return outcome{}, err
	}

	size := meta.Size
	fields.Size = &size
	fields.LastModified = meta.LastModified
	fields.Metadata = meta.UserMetadata

	// The stored size decides whether a ranged read is possible.
	rec.Size = meta.Size
	res, err := d.pipeline.Extract(ctx, rec)
	out := outcome{kind: event.KindPut, fields: fields}
	if err != nil {
		if ctx.Err() != nil {
			return outcome{}, err
		}

		var aerr *objectstore.AccessError
		if errors.As(err, &aerr) && aerr.Kind.Permanent() {
			o.logger.Warn("content unavailable, indexing without text",
				"bucket", rec.Bucket,
				"key", rec.Key,
				"error", err,
			)
		} else {
			o.logger.Error("content extraction failed, indexing without text",
				"bucket", rec.Bucket,
				"key", rec.Key,
				"version_id", rec.VersionID,
				"error", err,
			)
			out.err = err
			o.metrics.RecordOutcome(outcomeDeferred)
			return out, nil
		}
	}

	out.fields.Text = res.Text
	o.metrics.RecordOutcome(outcomeIndexed)
	return out, nil
}
