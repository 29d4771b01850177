package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryOptions control backoff behavior for Retry.
type RetryOptions struct {
	// Retries is the number of additional attempts after the first failure.
	Retries int

	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor multiplies the delay between consecutive retries.
	Factor float64

	// Jitter randomizes each delay by ±20% when true.
	Jitter bool

	// ShouldRetry overrides the default retryable-class check when set.
	ShouldRetry func(error) bool
}

// DefaultRetryOptions are sane defaults for calls against external tooling.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Retries: 3,
		Base:    200 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  true,
	}
}

func (o *RetryOptions) normalize() {
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Base <= 0 {
		o.Base = 200 * time.Millisecond
	}
	if o.Max <= 0 {
		o.Max = 10 * time.Second
	}
	if o.Factor < 1 {
		o.Factor = 2
	}
}

// RetryResult reports how an operation concluded.
type RetryResult struct {
	Attempts int
	Class    ErrorClass
}

// Retry runs fn, retrying on retryable error classifications. Total attempts
// never exceed opts.Retries+1. The delay before retry k (1-based) is
// min(Max, Base*Factor^(k-1)), randomized ±20% with jitter. Context
// cancellation aborts the wait and returns the context error.
func Retry(ctx context.Context, fn func(ctx context.Context) error, opts RetryOptions) (RetryResult, error) {
	opts.normalize()

	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error) bool { return Classify(err).Retryable() }
	}

	var res RetryResult
	var lastErr error

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, opts)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Class = ClassTimeout
				return res, fmt.Errorf("retry aborted after %d attempts: %w", res.Attempts, ctx.Err())
			case <-timer.C:
			}
		}

		res.Attempts++
		lastErr = fn(ctx)
		if lastErr == nil {
			res.Class = ""
			return res, nil
		}
		res.Class = Classify(lastErr)

		if !shouldRetry(lastErr) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return res, fmt.Errorf("attempt %d/%d (%s): %w", res.Attempts, opts.Retries+1, res.Class, lastErr)
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts RetryOptions) (T, RetryResult, error) {
	var out T
	res, err := Retry(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts)
	return out, res, err
}

// backoffDelay computes the pre-attempt delay for retry k (1-based).
func backoffDelay(k int, opts RetryOptions) time.Duration {
	d := float64(opts.Base)
	for i := 1; i < k; i++ {
		d *= opts.Factor
		if d >= float64(opts.Max) {
			d = float64(opts.Max)
			break
		}
	}
	if d > float64(opts.Max) {
		d = float64(opts.Max)
	}
	if opts.Jitter {
		// ±20%
		d *= 0.8 + 0.4*rand.Float64()
	}
	return time.Duration(d)
}
