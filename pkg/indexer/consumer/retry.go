package consumer

import (
	"errors"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hashicorp-forge/bucketsearch/pkg/event"
)

// Record headers written when a delivery is republished.
const (
	HeaderAttempts  = "bucketsearch-attempts"
	HeaderNotBefore = "bucketsearch-not-before"
	HeaderLastError = "bucketsearch-last-error"
)

// RetryConfig controls redelivery of failed records.
type RetryConfig struct {
	// MaxRedeliveries is how many times a record is republished before it
	// goes to the dead letter topic (default: 5). A negative value sends
	// every failed record straight to the dead letter topic.
	MaxRedeliveries int

	// InitialBackoff is the delay before the first redelivery (default: 30s)
	InitialBackoff time.Duration

	// MaxBackoff caps the delay (default: 5m)
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay per redelivery (default: 2)
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRedeliveries:   5,
		InitialBackoff:    30 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRedeliveries < 0 {
		c.MaxRedeliveries = 0
	} else if c.MaxRedeliveries == 0 {
		c.MaxRedeliveries = def.MaxRedeliveries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// NextRetry returns min(initialBackoff * multiplier^attempt, maxBackoff).
func (c RetryConfig) NextRetry(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= c.BackoffMultiplier
		if time.Duration(backoff) > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	d := time.Duration(backoff)
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// Decision is what happens to a record after it was handled.
type Decision int

const (
	// Commit means the record is done.
	Commit Decision = iota
	// Redeliver republishes the record to the source topic.
	Redeliver
	// DeadLetter sends the record to the dead letter topic.
	DeadLetter
)

func (d Decision) String() string {
	switch d {
	case Commit:
		return "commit"
	case Redeliver:
		return "redeliver"
	case DeadLetter:
		return "dead-letter"
	default:
		return "unknown"
	}
}

// Decide maps a handler result to a Decision. Malformed deliveries can
// never succeed and skip redelivery.
func (c RetryConfig) Decide(err error, redeliveries int) Decision {
	if err == nil {
		return Commit
	}
	var envErr *event.EnvelopeError
	if errors.As(err, &envErr) {
		return DeadLetter
	}
	if redeliveries >= c.MaxRedeliveries {
		return DeadLetter
	}
	return Redeliver
}

// redeliveries reads the attempts header of r. Records without one are on
// their first delivery.
func redeliveries(r *kgo.Record) int {
	for _, h := range r.Headers {
		if h.Key == HeaderAttempts {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil || n < 0 {
				return 0
			}
			return n
		}
	}
	return 0
}

// notBefore reads the earliest time r may be handled.
func notBefore(r *kgo.Record) time.Time {
	for _, h := range r.Headers {
		if h.Key == HeaderNotBefore {
			t, err := time.Parse(time.RFC3339Nano, string(h.Value))
			if err != nil {
				return time.Time{}
			}
			return t
		}
	}
	return time.Time{}
}

// retryRecord copies r for redelivery with updated retry headers.
func (c RetryConfig) retryRecord(r *kgo.Record, cause error, now time.Time) *kgo.Record {
	attempt := redeliveries(r) + 1

	headers := make([]kgo.RecordHeader, 0, len(r.Headers)+3)
	for _, h := range r.Headers {
		switch h.Key {
		case HeaderAttempts, HeaderNotBefore, HeaderLastError:
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers,
		kgo.RecordHeader{Key: HeaderAttempts, Value: []byte(strconv.Itoa(attempt))},
		kgo.RecordHeader{Key: HeaderNotBefore, Value: []byte(now.Add(c.NextRetry(attempt - 1)).UTC().Format(time.RFC3339Nano))},
		kgo.RecordHeader{Key: HeaderLastError, Value: []byte(cause.Error())},
	)

	return &kgo.Record{
		Topic:   r.Topic,
		Key:     r.Key,
		Value:   r.Value,
		Headers: headers,
	}
}
