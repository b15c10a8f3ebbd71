package exporter

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jittakal/bustrace/internal/errors"
)

// jitterFactor spreads each wait over [d/2, 3d/2].
const jitterFactor = 0.5

// RetryPolicy retries retryable sink errors with exponential backoff.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	EnableJitter      bool
}

// newBackOff builds the exponential schedule. MaxBackoff of zero leaves the
// wait uncapped and there is no overall deadline; attempts bound the loop.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.Multiplier = p.BackoffMultiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	if p.EnableJitter {
		b.RandomizationFactor = jitterFactor
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. It returns the last error fn returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	operation := func() error {
		last = fn(ctx)
		if last != nil && !errors.IsRetryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(attempts-1)), ctx)
	if err := backoff.Retry(operation, schedule); err != nil {
		if last != nil {
			return last
		}
		return err
	}
	return nil
}
