// Package retry provides retry-with-backoff shared by the channel senders.
//
// Errors are retryable unless marked otherwise. Senders mark terminal provider
// errors with Permanent or Bounce, and may attach a server-provided delay with
// After (e.g. HTTP 429 Retry-After).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy bounds attempts and the backoff curve.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap for any single delay, including Retry-After hints
	Jitter      float64       // 0..1 fraction of the delay randomized
}

// DefaultPolicy gives one automatic retry.
var DefaultPolicy = Policy{
	MaxAttempts: 2,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	Jitter:      0.2,
}

// Delay returns the wait before attempt n+1, given n failed attempts (n >= 1).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay << (n - 1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	return d
}

// DelayFor prefers a Retry-After hint carried by err, bounded by MaxDelay.
func (p Policy) DelayFor(n int, err error) time.Duration {
	if hint, ok := RetryAfterHint(err); ok {
		if p.MaxDelay > 0 && hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}
	return p.Delay(n)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

type bounceError struct{ err error }

func (e bounceError) Error() string { return e.err.Error() }
func (e bounceError) Unwrap() error { return e.err }

type afterError struct {
	err   error
	after time.Duration
}

func (e afterError) Error() string { return fmt.Sprintf("retry after %s: %v", e.after, e.err) }
func (e afterError) Unwrap() error { return e.err }

// Permanent marks err as terminal: it will never be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Bounce marks err as a terminal address-level rejection (hard bounce,
// unregistered device, blocked bot).
func Bounce(err error) error {
	if err == nil {
		return nil
	}
	return bounceError{err: err}
}

// After marks err as retryable with a suggested delay.
func After(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	if d < 0 {
		d = 0
	}
	return afterError{err: err, after: d}
}

// IsRetryable reports whether err may succeed on another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var p permanentError
	if errors.As(err, &p) {
		return false
	}
	var b bounceError
	return !errors.As(err, &b)
}

// IsBounce reports whether err was marked with Bounce.
func IsBounce(err error) bool {
	var b bounceError
	return errors.As(err, &b)
}

// RetryAfterHint extracts a delay attached with After.
func RetryAfterHint(err error) (time.Duration, bool) {
	var a afterError
	if errors.As(err, &a) {
		return a.after, true
	}
	return 0, false
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		last = fn(ctx)
		if last == nil || !IsRetryable(last) || i == attempts {
			return last
		}
		if err := Sleep(ctx, p.DelayFor(i, last)); err != nil {
			return last
		}
	}
	return last
}
