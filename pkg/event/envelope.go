package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
)

// testEventName is the test message storage sends when a notification target is
// first configured.
const testEventName = "s3:TestEvent"

// EnvelopeError reports a message body that does not carry a notification
// in any of the accepted shapes. It is never retryable.
type EnvelopeError struct {
	// Index is the position of the offending body in the delivery.
	Index  int
	Reason string
	Err    error
}

func (e *EnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed notification at %d: %s: %v", e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed notification at %d: %s", e.Index, e.Reason)
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// Batch is the set of change records carried by one message body.
type Batch struct {
	Records []ChangeRecord
	// Test is set for the configuration test message, which carries no records.
	Test bool
}

// snsEnvelope is the wrapper added when notifications are fanned out
// through a topic before reaching the queue.
type snsEnvelope struct {
	Type    string  `json:"Type"`
	Message *string `json:"Message"`
}

type notificationHeader struct {
	Records json.RawMessage `json:"Records"`
	Event   string          `json:"Event"`
}

// ParseDelivery decodes every body of a delivery before any of them is
// processed, so a malformed body rejects the delivery as a whole.
func ParseDelivery(bodies []string) ([]Batch, error) {
	batches := make([]Batch, 0, len(bodies))
	for i, body := range bodies {
		b, err := ParseBody(body)
		if err != nil {
			var envErr *EnvelopeError
			if errors.As(err, &envErr) {
				envErr.Index = i
			}
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, nil
}

// ParseBody decodes a single message body. The body is either a topic
// envelope whose Message holds the notification as a JSON string, or the
// notification itself.
func ParseBody(body string) (*Batch, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, &EnvelopeError{Reason: "body is not a JSON object", Err: err}
	}

	inner := []byte(body)
	if env.Message != nil {
		inner = []byte(*env.Message)
	}

	var hdr notificationHeader
	if err := json.Unmarshal(inner, &hdr); err != nil {
		return nil, &EnvelopeError{Reason: "message is not a JSON object", Err: err}
	}

	if hdr.Event == testEventName {
		return &Batch{Test: true}, nil
	}
	if len(hdr.Records) == 0 || string(hdr.Records) == "null" {
		return nil, &EnvelopeError{Reason: "notification has no Records"}
	}

	var n events.S3Event
	if err := json.Unmarshal(inner, &n); err != nil {
		return nil, &EnvelopeError{Reason: "invalid Records", Err: err}
	}

	batch := &Batch{Records: make([]ChangeRecord, 0, len(n.Records))}
	for _, r := range n.Records {
		batch.Records = append(batch.Records, FromS3(r))
	}
	return batch, nil
}
