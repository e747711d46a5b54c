package objectstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindTransient},
		{"plain", errors.New("connection reset"), KindTransient},
		{"404", statusErr(404), KindNotFound},
		{"403", statusErr(403), KindForbidden},
		{"402", statusErr(402), KindPaymentRequired},
		{"412", statusErr(412), KindPreconditionFailed},
		{"429", statusErr(429), KindTransient},
		{"500", statusErr(500), KindTransient},
		{"wrapped 404", fmt.Errorf("operation error: %w", statusErr(404)), KindNotFound},
		{"NoSuchKey code", &smithy.GenericAPIError{Code: "NoSuchKey"}, KindNotFound},
		{"NoSuchVersion code", &smithy.GenericAPIError{Code: "NoSuchVersion"}, KindNotFound},
		{"AccessDenied code", &smithy.GenericAPIError{Code: "AccessDenied"}, KindForbidden},
		{"PreconditionFailed code", &smithy.GenericAPIError{Code: "PreconditionFailed"}, KindPreconditionFailed},
		{"SlowDown code", &smithy.GenericAPIError{Code: "SlowDown"}, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorKind_Permanent(t *testing.T) {
	assert.False(t, KindTransient.Permanent())
	assert.True(t, KindNotFound.Permanent())
	assert.True(t, KindForbidden.Permanent())
	assert.True(t, KindPaymentRequired.Permanent())
	assert.True(t, KindPreconditionFailed.Permanent())
}

func TestAccessError(t *testing.T) {
	cause := statusErr(404)
	err := &AccessError{Op: "head", Bucket: "b", Key: "dir/k.txt", Kind: KindNotFound, Attempts: 1, Err: cause}

	assert.Contains(t, err.Error(), "head s3://b/dir/k.txt (not-found after 1 attempt(s))")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, KindTransient, KindOf(errors.New("other")))
}
