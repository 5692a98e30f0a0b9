// Package retry runs store operations under bounded exponential backoff.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
)

// Classifier reports whether err is worth retrying.
type Classifier func(err error) bool

// Policy bounds a retry loop.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Classify        Classifier
}

// DefaultPolicy retries transient failures up to three times.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Classify:        IsTransient,
	}
}

// NoRetry runs the operation exactly once.
func NoRetry() Policy {
	return Policy{Classify: func(error) bool { return false }}
}

// Notify is called before each retry with the failure and the upcoming delay.
type Notify func(err error, attempt int, next time.Duration)

// Do runs op until it succeeds, fails with a non transient error, the retry
// budget is spent, or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify ...Notify) error {
	classify := p.Classify
	if classify == nil {
		classify = IsTransient
	}

	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var b backoff.BackOff = newExponential(p)
	b = backoff.WithMaxRetries(b, p.MaxRetries)
	b = backoff.WithContext(b, ctx)

	attempt := 0
	onRetry := func(err error, next time.Duration) {
		attempt++
		for _, n := range notify {
			n(err, attempt, next)
		}
	}

	err := backoff.RetryNotify(operation, b, onRetry)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func newExponential(p Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Permanent marks err as not worth retrying regardless of the classifier.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Any combines classifiers; the error is transient if any of them says so.
func Any(classifiers ...Classifier) Classifier {
	return func(err error) bool {
		for _, c := range classifiers {
			if c != nil && c(err) {
				return true
			}
		}
		return false
	}
}

// IsTransient recognises failures that typically succeed on a second try:
// broken connections, network timeouts and postgres serialization or
// connection-class errors. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08":
			return true
		case pqErr.Code == "40001", pqErr.Code == "40P01":
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
