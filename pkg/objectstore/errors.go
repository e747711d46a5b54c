package objectstore

import (
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// ErrorKind classifies an object store failure.
type ErrorKind int

const (
	// KindTransient covers throttling, timeouts, 5xx and anything that is
	// not known to be permanent.
	KindTransient ErrorKind = iota
	KindNotFound
	KindForbidden
	KindPaymentRequired
	// KindPreconditionFailed means the object no longer matches the
	// consistency token of the notification.
	KindPreconditionFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindForbidden:
		return "forbidden"
	case KindPaymentRequired:
		return "payment-required"
	case KindPreconditionFailed:
		return "precondition-failed"
	default:
		return "transient"
	}
}

// Permanent reports whether retrying can never succeed.
func (k ErrorKind) Permanent() bool {
	return k != KindTransient
}

// Classify maps an SDK error to an ErrorKind, looking at the HTTP status
// first and the service error code second.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return KindNotFound
		case http.StatusForbidden:
			return KindForbidden
		case http.StatusPaymentRequired:
			return KindPaymentRequired
		case http.StatusPreconditionFailed:
			return KindPreconditionFailed
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchVersion", "NoSuchBucket", "NotFound":
			return KindNotFound
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return KindForbidden
		case "PreconditionFailed":
			return KindPreconditionFailed
		}
	}

	return KindTransient
}

// AccessError is returned by every Accessor operation that fails.
type AccessError struct {
	Op        string
	Bucket    string
	Key       string
	VersionID string
	Kind      ErrorKind
	Attempts  int
	Err       error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s s3://%s/%s (%s after %d attempt(s)): %v",
		e.Op, e.Bucket, e.Key, e.Kind, e.Attempts, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, or KindTransient when err
// did not come from an Accessor.
func KindOf(err error) ErrorKind {
	var accessErr *AccessError
	if errors.As(err, &accessErr) {
		return accessErr.Kind
	}
	return KindTransient
}
