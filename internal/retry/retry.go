// Package retry implements the exponential backoff policy used around the
// subtask runtime and other transient I/O. Delays grow as
// base * 2^attempt, capped at a maximum, then stretched by a bounded
// non-negative jitter fraction so that concurrent retries spread out. The
// jittered delay is never shorter than the deterministic backoff value.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Defaults applied by ApplyDefaults for unset policy fields.
const (
	DefaultBaseDelay      = 2 * time.Second
	DefaultMaxDelay       = 2 * time.Minute
	DefaultMaxAttempts    = 3
	DefaultJitterFraction = 0.25
)

// Policy describes how an operation is retried.
type Policy struct {
	// BaseDelay is the deterministic delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the deterministic delay. Jitter is applied on top of
	// the capped value.
	MaxDelay time.Duration

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// JitterFraction bounds the random stretch applied to each delay. A
	// delay of d becomes d * (1 + f) with f drawn uniformly from
	// [0, JitterFraction]. Must be positive; ApplyDefaults enforces this.
	JitterFraction float64

	// Retryable decides whether an error is worth another attempt. When
	// nil every error is retried until attempts run out.
	Retryable func(error) bool

	// OnRetry, when set, is invoked before each backoff sleep with the
	// upcoming attempt number (1-based), the chosen delay, and the error
	// that triggered the retry.
	OnRetry func(attempt int, delay time.Duration, err error)

	// randFloat is the jitter source, uniform in [0, 1). Tests override it.
	randFloat func() float64
}

// DefaultPolicy returns a policy with all defaults applied.
func DefaultPolicy() Policy {
	return Policy{}.ApplyDefaults()
}

// ApplyDefaults fills unset fields with defaults and returns the policy.
func (p Policy) ApplyDefaults() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.JitterFraction <= 0 {
		p.JitterFraction = DefaultJitterFraction
	}
	if p.randFloat == nil {
		p.randFloat = rand.Float64
	}
	return p
}

// Delay returns the jittered backoff delay for the given 0-based attempt.
// The result is always at least the deterministic value
// min(BaseDelay * 2^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.ApplyDefaults()
	if attempt < 0 {
		attempt = 0
	}

	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		// Doubling past MaxDelay (or overflowing) pins the delay at the cap.
		if d >= p.MaxDelay || d <= 0 {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	jitter := time.Duration(float64(d) * p.JitterFraction * p.randFloat())
	if jitter < 0 {
		jitter = 0
	}
	return d + jitter
}

// Do runs fn, retrying per the policy. It returns nil on the first success,
// the last error once attempts are exhausted, or early when the error is not
// retryable or the context is cancelled between attempts.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	p = p.ApplyDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
