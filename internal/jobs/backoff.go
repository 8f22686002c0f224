package jobs

import (
	"errors"
	"time"
)

// BackoffKind names the retry policy recorded on a job row
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// Backoff maps a failure count to the delay before the next attempt
type Backoff interface {
	// Delay returns the wait before retry n (n is the number of failed
	// attempts so far, starting at 1).
	Delay(n int) time.Duration
}

// maxExponentialDelay caps exponential growth. A retry a day out is as
// good as never; the cap also keeps the doubling from overflowing.
const maxExponentialDelay = 24 * time.Hour

// Exponential doubles the delay on every failure: base * 2^(n-1),
// capped at maxExponentialDelay.
type Exponential struct {
	Base time.Duration
}

func (e Exponential) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := e.Base
	for i := 1; i < n; i++ {
		if d >= maxExponentialDelay {
			break
		}
		d <<= 1
	}
	if d > maxExponentialDelay {
		d = maxExponentialDelay
	}
	return d
}

// Fixed waits the same delay on every failure
type Fixed struct {
	Interval time.Duration
}

func (f Fixed) Delay(n int) time.Duration { return f.Interval }

// Ladder is a capped sequence of delays indexed by attempt count.
// Attempts past the end keep the final (largest) delay.
type Ladder []time.Duration

// Delay returns ladder[min(n, len-1)]; here n is zero-based
func (l Ladder) Delay(n int) time.Duration {
	if len(l) == 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	if n >= len(l) {
		n = len(l) - 1
	}
	return l[n]
}

// permanentError marks a failure that must not be retried regardless of the
// job's remaining attempts; it goes straight to the dead letter queue.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so MarkFailed skips the retry ladder
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) is permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
