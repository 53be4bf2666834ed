// Package retry repeats operations that fail with transient errors, such as
// SQLite reporting the database as busy.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often an operation is repeated and how long to wait in
// between. A Multiplier of 1 or less waits Initial every time.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxRetries int // attempts after the first failure
}

// DefaultPolicy waits 100ms, doubling up to 1s, for at most three retries.
func DefaultPolicy() Policy {
	return Policy{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, MaxRetries: 3}
}

func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		return backoff.NewConstantBackOff(p.Initial)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0.2
	return b
}

// Do calls fn until it succeeds, fails with an error retryable rejects, or
// the retries are used up. It returns fn's last error. When ctx ends while
// waiting, that error is returned with the cancellation noted.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var last error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		last = fn()
		if last != nil && !retryable(last) {
			return struct{}{}, backoff.Permanent(last)
		}
		return struct{}{}, last
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0))+1),
	)
	if err == nil {
		return nil
	}
	if last != nil && ctx.Err() != nil && !stderrors.Is(err, last) {
		return fmt.Errorf("%w (retry aborted: %v)", last, ctx.Err())
	}
	if last != nil {
		return last
	}
	return err
}
