// Package objectstore reads object metadata and content from S3 or an
// S3-compatible store, retrying transient failures within a time budget.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp-forge/bucketsearch/pkg/metrics"
)

// nullVersion is the version id storage reports for objects written
// before versioning was enabled on the bucket.
const nullVersion = "null"

// S3API is the subset of the S3 client the accessor uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectRef identifies the object state a notification refers to.
type ObjectRef struct {
	Bucket    string
	Key       string
	ETag      string
	VersionID string
	// Size is the size reported by the notification; ranged reads are
	// skipped for empty objects.
	Size int64
}

// Metadata is the result of Head.
type Metadata struct {
	Size         int64
	LastModified time.Time
	ETag         string
	VersionID    string
	UserMetadata map[string]string
}

// AccessorConfig holds configuration for an Accessor.
type AccessorConfig struct {
	Client  S3API
	Retry   RetryPolicy
	Logger  hclog.Logger
	Metrics *metrics.Metrics
}

// Accessor performs conditional, retried reads against the object store.
// It is safe for concurrent use.
type Accessor struct {
	client   S3API
	policy   RetryPolicy
	deadline time.Time
	logger   hclog.Logger
	metrics  *metrics.Metrics

	now      func() time.Time
	newTimer func() backoff.Timer
}

// NewAccessor creates a new Accessor.
func NewAccessor(cfg AccessorConfig) (*Accessor, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Accessor{
		client:  cfg.Client,
		policy:  cfg.Retry.withDefaults(),
		logger:  cfg.Logger.Named("object-accessor"),
		metrics: cfg.Metrics,
		now:     time.Now,
	}, nil
}

// WithDeadline returns a copy of the accessor whose retries never wait
// past t. A zero t removes the deadline.
func (a *Accessor) WithDeadline(t time.Time) *Accessor {
	cp := *a
	cp.deadline = t
	return &cp
}

// Deadline returns the deadline set by WithDeadline.
func (a *Accessor) Deadline() time.Time {
	return a.deadline
}

// Head fetches the metadata of the object state named by ref.
func (a *Accessor) Head(ctx context.Context, ref ObjectRef) (*Metadata, error) {
	return withNullFallback(ctx, a, ref, a.head)
}

// Get opens the content of the object state named by ref. A positive
// limit requests only the first limit+1 bytes. The caller closes the
// returned body.
func (a *Accessor) Get(ctx context.Context, ref ObjectRef, limit int64) (io.ReadCloser, error) {
	return withNullFallback(ctx, a, ref, func(ctx context.Context, ref ObjectRef) (io.ReadCloser, error) {
		return a.get(ctx, ref, limit)
	})
}

// withNullFallback repeats a forbidden request for the "null" version once
// without any consistency token. Objects written before versioning was
// enabled report that version but reject reads that name it.
func withNullFallback[T any](ctx context.Context, a *Accessor, ref ObjectRef, fn func(context.Context, ObjectRef) (T, error)) (T, error) {
	res, err := fn(ctx, ref)
	if err == nil || ref.VersionID != nullVersion || KindOf(err) != KindForbidden {
		return res, err
	}

	a.logger.Warn("forbidden on null version, retrying without version",
		"bucket", ref.Bucket,
		"key", ref.Key,
	)
	unconditional := ref
	unconditional.VersionID = ""
	unconditional.ETag = ""
	return fn(ctx, unconditional)
}

func (a *Accessor) head(ctx context.Context, ref ObjectRef) (*Metadata, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	}
	if ref.VersionID != "" {
		input.VersionId = aws.String(ref.VersionID)
	} else if ref.ETag != "" {
		input.IfMatch = aws.String(ref.ETag)
	}

	out, err := retry(ctx, a, "head", ref, func() (*s3.HeadObjectOutput, error) {
		return a.client.HeadObject(ctx, input)
	})
	if err != nil {
		return nil, err
	}

	return &Metadata{
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         trimQuotes(aws.ToString(out.ETag)),
		VersionID:    aws.ToString(out.VersionId),
		UserMetadata: out.Metadata,
	}, nil
}

func (a *Accessor) get(ctx context.Context, ref ObjectRef, limit int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	}
	if ref.VersionID != "" {
		input.VersionId = aws.String(ref.VersionID)
	} else if ref.ETag != "" {
		input.IfMatch = aws.String(ref.ETag)
	}
	// A range on an empty object is unsatisfiable.
	if limit > 0 && ref.Size > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=0-%d", limit))
	}

	out, err := retry(ctx, a, "get", ref, func() (*s3.GetObjectOutput, error) {
		return a.client.GetObject(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	if out.Body == nil {
		return http.NoBody, nil
	}
	return out.Body, nil
}

// retry runs call under the accessor's retry policy. Permanent failures
// end the loop at once; the last failure is returned when the attempts or
// the deadline run out.
func retry[T any](ctx context.Context, a *Accessor, op string, ref ObjectRef, call func() (T, error)) (T, error) {
	attempts := 0
	operation := func() (T, error) {
		attempts++
		res, err := call()
		if err == nil {
			a.metrics.ObjectRequest(op, "success")
			return res, nil
		}
		if kind := Classify(err); kind.Permanent() {
			a.metrics.ObjectRequest(op, "permanent")
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, wait time.Duration) {
		a.metrics.ObjectRequest(op, "retry")
		a.logger.Debug("retrying object request",
			"op", op,
			"bucket", ref.Bucket,
			"key", ref.Key,
			"attempt", attempts,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithContext(a.policy.newBackOff(a.deadline, a.now), ctx)

	var timer backoff.Timer
	if a.newTimer != nil {
		timer = a.newTimer()
	}

	res, err := backoff.RetryNotifyWithTimerAndData(operation, b, notify, timer)
	if err != nil {
		kind := Classify(err)
		if !kind.Permanent() {
			a.metrics.ObjectRequest(op, "exhausted")
		}
		var zero T
		return zero, &AccessError{
			Op:        op,
			Bucket:    ref.Bucket,
			Key:       ref.Key,
			VersionID: ref.VersionID,
			Kind:      kind,
			Attempts:  attempts,
			Err:       err,
		}
	}
	return res, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
