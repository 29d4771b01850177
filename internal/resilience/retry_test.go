package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	res, err := Retry(context.Background(), func(context.Context) error {
		calls++
		return nil
	}, RetryOptions{Retries: 3, Base: time.Millisecond})

	if err != nil {
		t.Fatalf("Retry() error = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
}

func TestRetry_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	res, err := Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, RetryOptions{Retries: 5, Base: time.Millisecond})

	if err != nil {
		t.Fatalf("Retry() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestRetry_AtMostRetriesPlusOne(t *testing.T) {
	t.Parallel()

	calls := 0
	res, err := Retry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("request timed out")
	}, RetryOptions{Retries: 2, Base: time.Millisecond})

	if err == nil {
		t.Fatal("Retry() error = nil, want error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (retries+1)", calls)
	}
	if res.Class != ClassTimeout {
		t.Errorf("class = %q, want %q", res.Class, ClassTimeout)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Retry(context.Background(), func(context.Context) error {
		calls++
		return &StatusError{Status: 401}
	}, RetryOptions{Retries: 5, Base: time.Millisecond})

	if err == nil {
		t.Fatal("Retry() error = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for auth error", calls)
	}
}

func TestRetry_ShouldRetryOverride(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Retry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("opaque")
	}, RetryOptions{
		Retries:     2,
		Base:        time.Millisecond,
		ShouldRetry: func(error) bool { return true },
	})

	if err == nil {
		t.Fatal("Retry() error = nil, want error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 with ShouldRetry override", calls)
	}
}

func TestRetry_ContextCancelAbortsWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Retry(ctx, func(context.Context) error {
		calls++
		return errors.New("service unavailable")
	}, RetryOptions{Retries: 10, Base: 10 * time.Second})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoffDelay_JitterBounds(t *testing.T) {
	t.Parallel()

	opts := RetryOptions{Base: 100 * time.Millisecond, Max: time.Hour, Factor: 2, Jitter: true}
	opts.normalize()

	for k := 1; k <= 5; k++ {
		raw := float64(opts.Base)
		for i := 1; i < k; i++ {
			raw *= opts.Factor
		}
		lo := time.Duration(raw * 0.8)
		hi := time.Duration(raw * 1.2)

		for range 50 {
			d := backoffDelay(k, opts)
			if d < lo || d > hi {
				t.Fatalf("backoffDelay(%d) = %v, want within [%v, %v]", k, d, lo, hi)
			}
		}
	}
}

func TestBackoffDelay_CappedAtMax(t *testing.T) {
	t.Parallel()

	opts := RetryOptions{Base: time.Second, Max: 4 * time.Second, Factor: 10}
	opts.normalize()

	if d := backoffDelay(5, opts); d != 4*time.Second {
		t.Errorf("backoffDelay(5) = %v, want capped at 4s", d)
	}
}

func TestRetryValue(t *testing.T) {
	t.Parallel()

	calls := 0
	v, res, err := RetryValue(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("bad gateway")
		}
		return 42, nil
	}, RetryOptions{Retries: 3, Base: time.Millisecond})

	if err != nil {
		t.Fatalf("RetryValue() error = %v", err)
	}
	if v != 42 {
		t.Errorf("value = %d, want 42", v)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
}
