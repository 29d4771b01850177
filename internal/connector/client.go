package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/linnemanlabs/warden/internal/ratelimit"
	"github.com/linnemanlabs/warden/internal/resilience"
)

// ErrRateLimited is returned by Query when the connector's limiter denies.
var ErrRateLimited = errors.New("connector rate limit exceeded")

// guard wraps every outbound query with the circuit breaker, the rate
// limiter, retries, and the per-connector counters.
type guard struct {
	breaker *Breaker
	limiter ratelimit.Limiter
	retry   resilience.RetryOptions

	total  atomic.Int64
	failed atomic.Int64
}

func (g *guard) run(ctx context.Context, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if !g.breaker.Allow() {
		return nil, ErrBreakerOpen
	}
	if g.limiter != nil && !g.limiter.Allow() {
		return nil, ErrRateLimited
	}
	g.total.Add(1)
	out, _, err := resilience.RetryValue(ctx, fn, g.retry)
	if err != nil {
		g.failed.Add(1)
		g.breaker.Failure()
		return nil, err
	}
	g.breaker.Success()
	return out, nil
}

func (g *guard) snapshot() Metrics {
	return Metrics{
		TotalQueries:  g.total.Load(),
		FailedQueries: g.failed.Load(),
	}
}

// getJSON issues a GET and returns the body, mapping non-200 statuses to a
// classified StatusError so the retry layer treats them correctly.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20)) // 5 MB
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
