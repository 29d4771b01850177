package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/ratelimit"
	"github.com/linnemanlabs/warden/internal/resilience"
)

// PrometheusConnector queries a Prometheus-compatible endpoint with PromQL.
type PrometheusConnector struct {
	cfg     Config
	client  *http.Client
	guard   *guard
	metrics *RegistryMetrics

	mu     sync.Mutex
	status Status
}

// PrometheusFactory returns the factory for prometheus connectors, emitting
// breaker events through the registry.
func PrometheusFactory(r *Registry, m *RegistryMetrics) Factory {
	return func(cfg Config) (Connector, error) {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("prometheus connector requires an endpoint")
		}
		return newPrometheusConnector(cfg, r.Emit, m), nil
	}
}

func newPrometheusConnector(cfg Config, emit func(Event), m *RegistryMetrics) *PrometheusConnector {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &PrometheusConnector{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
		status:  StatusInactive,
	}
	c.guard = &guard{
		retry: resilience.DefaultRetryOptions(),
		breaker: NewBreaker(5, 30*time.Second,
			func() {
				m.BreakerTrips.Inc()
				emit(Event{ConnectorID: cfg.ID, TenantID: cfg.TenantID, Type: cfg.Type, Kind: EventBreakerOpen, Err: ErrBreakerOpen})
			},
			func() {
				emit(Event{ConnectorID: cfg.ID, TenantID: cfg.TenantID, Type: cfg.Type, Kind: EventBreakerReset})
			},
		),
	}
	if cfg.RatePerSecond > 0 {
		c.guard.limiter = ratelimit.NewTokenBucket(cfg.RatePerSecond, cfg.RatePerSecond, time.Second)
	}
	return c
}

// Info returns the connector's public state.
func (c *PrometheusConnector) Info() Info {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()
	return Info{
		ID:       c.cfg.ID,
		TenantID: c.cfg.TenantID,
		Type:     c.cfg.Type,
		Status:   status,
		Metrics:  c.guard.snapshot(),
		Breaker:  c.guard.breaker.State(),
	}
}

func (c *PrometheusConnector) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Initialize verifies the endpoint is reachable and marks the connector active.
func (c *PrometheusConnector) Initialize(ctx context.Context) error {
	if _, err := getJSON(ctx, c.client, c.cfg.Endpoint+"/-/healthy", nil); err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("prometheus ping: %w", err)
	}
	c.setStatus(StatusActive)
	return nil
}

// Query runs an instant PromQL query. Params: {query, time?}.
func (c *PrometheusConnector) Query(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Query string `json:"query"`
		Time  string `json:"time,omitempty"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if input.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = "/api/v1/query"
	q := u.Query()
	q.Set("query", input.Query)
	if input.Time != "" {
		q.Set("time", input.Time)
	}
	u.RawQuery = q.Encode()

	out, err := c.guard.run(ctx, func(ctx context.Context) (json.RawMessage, error) {
		body, err := getJSON(ctx, c.client, u.String(), nil)
		if err != nil {
			return nil, err
		}
		return slimPrometheusResponse(body)
	})
	c.countQuery(err)
	return out, err
}

func (c *PrometheusConnector) countQuery(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.Queries.WithLabelValues(string(c.cfg.Type), status).Inc()
}

// slimPrometheusResponse trims an instant-query response to the fields
// investigations actually consume, capping result size.
func slimPrometheusResponse(body []byte) (json.RawMessage, error) {
	var promResp struct {
		Status string `json:"status"`
		Data   struct {
			ResultType string            `json:"resultType"`
			Result     []json.RawMessage `json:"result"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &promResp); err != nil {
		return body, nil // return raw if we can't parse
	}
	if promResp.Status != successStatus {
		return nil, fmt.Errorf("prometheus query failed: %s", string(body))
	}

	results := promResp.Data.Result
	truncated := false
	if len(results) > 50 {
		results = results[:50]
		truncated = true
	}
	return json.Marshal(map[string]any{
		"result_type":  promResp.Data.ResultType,
		"result_count": len(promResp.Data.Result),
		"results":      results,
		"truncated":    truncated,
	})
}

// PerformHealthCheck pings the health endpoint and reports latency plus the
// current counter snapshot.
func (c *PrometheusConnector) PerformHealthCheck(ctx context.Context) HealthResult {
	start := time.Now()
	_, err := getJSON(ctx, c.client, c.cfg.Endpoint+"/-/healthy", nil)
	res := HealthResult{
		Healthy: err == nil,
		Latency: time.Since(start),
		Metrics: c.guard.snapshot(),
	}
	if err != nil {
		res.Error = err.Error()
		c.setStatus(StatusError)
	} else {
		c.setStatus(StatusActive)
	}
	return res
}

// Shutdown releases idle connections and marks the connector inactive.
func (c *PrometheusConnector) Shutdown(_ context.Context) error {
	c.client.CloseIdleConnections()
	c.setStatus(StatusInactive)
	return nil
}

// ResetCircuitBreaker forces the breaker closed.
func (c *PrometheusConnector) ResetCircuitBreaker() {
	c.guard.breaker.Reset()
}
