// Package retry repeats an operation with capped exponential backoff.
// Batch jobs use it around single-item transactions, which are idempotent
// and safe to run again after a serialization failure or a dropped
// connection.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the inner error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Policy describes how often and how patiently to retry. The zero value
// makes a single attempt.
type Policy struct {
	// Attempts includes the first call.
	Attempts int

	// Backoff before the second attempt; doubled after each failure up to
	// MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Jitter spreads each wait by up to +/- this fraction.
	Jitter float64

	// RetryIf filters retryable errors. Nil retries everything not Permanent.
	RetryIf func(error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Storage is tuned for short database transactions: three attempts within
// roughly a quarter of a second.
func Storage(retryIf func(error) bool) Policy {
	return Policy{
		Attempts:   3,
		Backoff:    50 * time.Millisecond,
		MaxBackoff: time.Second,
		Jitter:     0.05,
		RetryIf:    retryIf,
	}
}

// Do calls op until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. The last error from op is returned as is; ctx.Err()
// is returned only when op never ran.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		last = op(ctx)
		switch {
		case last == nil:
			return nil
		case IsPermanent(last):
			return errors.Unwrap(last)
		case p.RetryIf != nil && !p.RetryIf(last):
			return last
		case attempt >= attempts:
			return last
		}

		wait := p.wait(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, last, wait)
		}
		if sleep(ctx, wait) != nil {
			return last
		}
	}
}

// wait returns the backoff after the given failed attempt.
func (p Policy) wait(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt && (p.MaxBackoff <= 0 || d < p.MaxBackoff); i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 && d > 0 {
		d += time.Duration(float64(d) * p.Jitter * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var v T
	err := p.Do(ctx, func(ctx context.Context) error {
		var err error
		v, err = op(ctx)
		return err
	})
	return v, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
