// Package retry implements bounded retries with exponential backoff and
// full jitter for outbound delivery attempts.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy controls how many attempts are made and how long to wait between
// them. The delay before attempt n+1 is base×2^(n-1) capped at MaxDelay,
// plus uniform jitter in [0, delay].
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the standard delivery retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Do invokes fn up to MaxAttempts times. After a failed attempt, retriable
// decides whether the error is worth another try; a non-retriable error is
// returned immediately. The last error is returned when attempts run out.
func (p Policy) Do(ctx context.Context, fn func() error, retriable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retriable != nil && !retriable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// delay computes the backoff before the next attempt after attempt failures.
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	// Full jitter: uniform in [0, d] on top of the exponential term.
	return d + time.Duration(rand.Int63n(int64(d)+1))
}
