// Package retry runs an operation a bounded number of times with a caller
// supplied delay between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// DelayFunc returns the wait before the given retry (1 for the first retry).
type DelayFunc func(retry int) time.Duration

// Constant returns a DelayFunc that always waits d.
func Constant(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

// Do calls fn up to retries+1 times, waiting delay(n) before retry n.
// It returns the first success, or the last error once retries are exhausted
// or ctx is done.
func Do[T any](ctx context.Context, retries int, delay DelayFunc, fn func(ctx context.Context) (T, error)) (T, error) {
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		return fn(ctx)
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(&delayBackOff{delay: delay}),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Dur("next_retry", next).
				Msg("operation failed, will retry")
		}),
	)
}

// delayBackOff adapts a DelayFunc to backoff.BackOff.
type delayBackOff struct {
	delay DelayFunc
	retry int
}

func (b *delayBackOff) NextBackOff() time.Duration {
	b.retry++
	return b.delay(b.retry)
}

func (b *delayBackOff) Reset() {
	b.retry = 0
}
