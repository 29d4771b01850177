package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/linnemanlabs/warden/internal/ratelimit"
	"github.com/linnemanlabs/warden/internal/resilience"
)

const successStatus = "success"

// LokiConnector queries Loki for log entries matching a LogQL expression.
type LokiConnector struct {
	cfg     Config
	client  *http.Client
	guard   *guard
	metrics *RegistryMetrics

	mu     sync.Mutex
	status Status
}

type lokiInput struct {
	Query string `json:"query"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type logLine struct {
	Timestamp string            `json:"ts"`
	Line      string            `json:"line"`
	Labels    map[string]string `json:"labels,omitempty"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string       `json:"resultType"`
		Result     []lokiStream `json:"result"`
	} `json:"data"`
}

// LokiFactory returns the factory for loki connectors.
func LokiFactory(r *Registry, m *RegistryMetrics) Factory {
	return func(cfg Config) (Connector, error) {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("loki connector requires an endpoint")
		}
		return newLokiConnector(cfg, r.Emit, m), nil
	}
}

func newLokiConnector(cfg Config, emit func(Event), m *RegistryMetrics) *LokiConnector {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &LokiConnector{
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

func parseLokiInput(params json.RawMessage) (lokiInput, error) {
	var input lokiInput
	if err := json.Unmarshal(params, &input); err != nil {
		return input, fmt.Errorf("invalid params: %w", err)
	}
	if input.Query == "" {
		return input, fmt.Errorf("query is required")
	}

	switch {
	case input.Limit <= 0:
		input.Limit = 100
	case input.Limit > 500:
		input.Limit = 500
	}

	now := time.Now().UTC()
	if input.Start == "" {
		input.Start = now.Add(-1 * time.Hour).Format(time.RFC3339Nano)
	}
	if input.End == "" {
		input.End = now.Format(time.RFC3339Nano)
	}

	// Cap range to 6 hours
	startTime, _ := time.Parse(time.RFC3339, input.Start)
	endTime, _ := time.Parse(time.RFC3339, input.End)
	if endTime.Sub(startTime) > 6*time.Hour {
		input.Start = endTime.Add(-6 * time.Hour).Format(time.RFC3339Nano)
	}

	return input, nil
}

func flattenStreams(results []lokiStream, limit int) []logLine {
	lines := make([]logLine, 0, limit)
	for _, stream := range results {
		includeLabels := true
		for _, entry := range stream.Values {
			if len(entry) < 2 {
				continue
			}
			ll := logLine{Timestamp: entry[0], Line: entry[1]}
			if includeLabels {
				ll.Labels = stream.Stream
				includeLabels = false
			}
			lines = append(lines, ll)
			if len(lines) >= limit {
				return lines
			}
		}
	}
	return lines
}

// Info returns the connector's public state.
func (c *LokiConnector) Info() Info {
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

func (c *LokiConnector) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Initialize verifies the endpoint is reachable and marks the connector active.
func (c *LokiConnector) Initialize(ctx context.Context) error {
	if _, err := getJSON(ctx, c.client, c.cfg.Endpoint+"/ready", c.headers()); err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("loki ping: %w", err)
	}
	c.setStatus(StatusActive)
	return nil
}

func (c *LokiConnector) headers() map[string]string {
	if c.cfg.TenantID == "" {
		return nil
	}
	return map[string]string{"X-Scope-OrgID": c.cfg.TenantID}
}

// Query runs a bounded LogQL range query. Params: {query, start?, end?, limit?}.
func (c *LokiConnector) Query(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	input, err := parseLokiInput(params)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "loki/api/v1/query_range")
	q := u.Query()
	q.Set("query", input.Query)
	q.Set("start", input.Start)
	q.Set("end", input.End)
	q.Set("limit", fmt.Sprintf("%d", input.Limit))
	q.Set("direction", "backward")
	u.RawQuery = q.Encode()

	out, err := c.guard.run(ctx, func(ctx context.Context) (json.RawMessage, error) {
		body, err := getJSON(ctx, c.client, u.String(), c.headers())
		if err != nil {
			return nil, err
		}
		return slimLokiResponse(body, input.Limit)
	})
	c.countQuery(err)
	return out, err
}

func (c *LokiConnector) countQuery(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.Queries.WithLabelValues(string(c.cfg.Type), status).Inc()
}

func slimLokiResponse(body []byte, limit int) (json.RawMessage, error) {
	var lokiResp lokiResponse
	if err := json.Unmarshal(body, &lokiResp); err != nil {
		return body, nil
	}
	if lokiResp.Status != successStatus {
		return nil, fmt.Errorf("loki query failed: %s", string(body))
	}

	lines := flattenStreams(lokiResp.Data.Result, limit)
	return json.Marshal(map[string]any{
		"stream_count": len(lokiResp.Data.Result),
		"line_count":   len(lines),
		"lines":        lines,
		"truncated":    len(lines) >= limit,
	})
}

// PerformHealthCheck pings the ready endpoint and reports latency plus the
// current counter snapshot.
func (c *LokiConnector) PerformHealthCheck(ctx context.Context) HealthResult {
	start := time.Now()
	_, err := getJSON(ctx, c.client, c.cfg.Endpoint+"/ready", c.headers())
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
func (c *LokiConnector) Shutdown(_ context.Context) error {
	c.client.CloseIdleConnections()
	c.setStatus(StatusInactive)
	return nil
}

// ResetCircuitBreaker forces the breaker closed.
func (c *LokiConnector) ResetCircuitBreaker() {
	c.guard.breaker.Reset()
}
