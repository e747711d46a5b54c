package objectstore

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls how object store calls are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first one included
	// (default: 4)
	MaxAttempts int

	// InitialBackoff is the first wait between attempts (default: 4s)
	InitialBackoff time.Duration

	// Multiplier grows the wait after every attempt (default: 2)
	Multiplier float64

	// MaxBackoff caps a single wait (default: 30s)
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 4 * time.Second,
		Multiplier:     2,
		MaxBackoff:     30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// newBackOff builds the schedule for one call. Waits are deterministic:
// InitialBackoff, InitialBackoff*Multiplier, ... capped at MaxBackoff.
func (p RetryPolicy) newBackOff(deadline time.Time, now func() time.Time) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
	if !deadline.IsZero() {
		b = &deadlineBackOff{BackOff: b, deadline: deadline, now: now}
	}
	return b
}

// deadlineBackOff stops the schedule as soon as the next wait would end
// past the deadline, so the caller fails with the last error while there
// is still time left to report it.
type deadlineBackOff struct {
	backoff.BackOff
	deadline time.Time
	now      func() time.Time
}

func (d *deadlineBackOff) NextBackOff() time.Duration {
	next := d.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if d.now().Add(next).After(d.deadline) {
		return backoff.Stop
	}
	return next
}
