package retry

import (
	"context"
	"log"
	"time"

	"github.com/audioscribe/pipeline/pkg/apperr"
	"github.com/cenkalti/backoff/v4"
)

// Policy is the retry policy applied at the object storage boundary
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable decides whether a failed attempt is tried again.
	// Defaults to apperr.Retryable.
	Retryable func(error) bool
}

// DefaultPolicy returns 3 attempts starting at 1s and doubling
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Retryable:       apperr.Retryable,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = apperr.Retryable
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Printf("    [!] %s attempt %d/%d failed, retrying in %v: %v\n", op, attempt, p.MaxAttempts, next, err)
	}

	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}
