package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DefaultDLQTopic is used when no dead letter topic is configured.
const DefaultDLQTopic = "bucketsearch.notifications.dlq"

// DLQMessage is the value written to the dead letter topic.
type DLQMessage struct {
	ID string `json:"id"`

	// Where the failed record was read from
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`

	FailureReason string    `json:"failure_reason"`
	Redeliveries  int       `json:"redeliveries"`
	DLQTimestamp  time.Time `json:"dlq_timestamp"`

	// Body is the original delivery, unchanged.
	Body string `json:"body"`
}

// dlqRecord wraps a failed record for the dead letter topic.
func dlqRecord(topic string, r *kgo.Record, cause error, now time.Time) (*kgo.Record, error) {
	msg := DLQMessage{
		ID:            uuid.New().String(),
		Topic:         r.Topic,
		Partition:     r.Partition,
		Offset:        r.Offset,
		FailureReason: cause.Error(),
		Redeliveries:  redeliveries(r),
		DLQTimestamp:  now.UTC(),
		Body:          string(r.Value),
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	// Keep the original key for consistent partitioning
	return &kgo.Record{
		Topic: topic,
		Key:   r.Key,
		Value: value,
	}, nil
}
