package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func testEmit(Event) {}

func newTestPromConnector(t *testing.T, handler http.HandlerFunc) *PrometheusConnector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	m := NewRegistryMetrics(prometheus.NewRegistry())
	return newPrometheusConnector(Config{
		ID: "p1", TenantID: "t1", Type: TypePrometheus, Endpoint: srv.URL,
	}, testEmit, m)
}

func TestPrometheusConnectorQuery(t *testing.T) {
	t.Parallel()

	c := newTestPromConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/-/healthy":
			fmt.Fprint(w, "ok")
		case "/api/v1/query":
			if r.URL.Query().Get("query") != "up" {
				t.Errorf("query = %q, want %q", r.URL.Query().Get("query"), "up")
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"__name__":"up"},"value":[1234,"1"]}]}}`)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	ctx := context.Background()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if c.Info().Status != StatusActive {
		t.Fatalf("status = %s, want active", c.Info().Status)
	}

	out, err := c.Query(ctx, json.RawMessage(`{"query":"up"}`))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if parsed["result_type"] != "vector" {
		t.Errorf("result_type = %v, want vector", parsed["result_type"])
	}

	info := c.Info()
	if info.Metrics.TotalQueries != 1 || info.Metrics.FailedQueries != 0 {
		t.Fatalf("metrics = %+v, want 1 total / 0 failed", info.Metrics)
	}
}

func TestPrometheusConnectorQueryValidation(t *testing.T) {
	t.Parallel()
	c := newTestPromConnector(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	})
	if _, err := c.Query(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatalf("empty query should fail")
	}
}

func TestPrometheusConnectorBreakerOpens(t *testing.T) {
	t.Parallel()

	c := newTestPromConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/query" {
			http.Error(w, "bad query", http.StatusBadRequest) // non-retryable
			return
		}
		fmt.Fprint(w, "ok")
	})

	ctx := context.Background()
	// Breaker threshold is 5 consecutive failures.
	for i := 0; i < 5; i++ {
		if _, err := c.Query(ctx, json.RawMessage(`{"query":"up"}`)); err == nil {
			t.Fatalf("query %d should fail", i)
		}
	}
	if c.Info().Breaker != BreakerOpen {
		t.Fatalf("breaker = %s, want open", c.Info().Breaker)
	}
	if _, err := c.Query(ctx, json.RawMessage(`{"query":"up"}`)); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}

	c.ResetCircuitBreaker()
	if c.Info().Breaker != BreakerClosed {
		t.Fatalf("breaker = %s after reset, want closed", c.Info().Breaker)
	}
}

func TestLokiConnectorQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ready":
			fmt.Fprint(w, "ready")
		case "/loki/api/v1/query_range":
			if got := r.Header.Get("X-Scope-OrgID"); got != "t1" {
				t.Errorf("tenant header = %q, want t1", got)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"success","data":{"resultType":"streams","result":[{"stream":{"job":"auth"},"values":[["1700000000000000000","login failed"]]}]}}`)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	m := NewRegistryMetrics(prometheus.NewRegistry())
	c := newLokiConnector(Config{
		ID: "l1", TenantID: "t1", Type: TypeLoki, Endpoint: srv.URL,
	}, testEmit, m)

	ctx := context.Background()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	out, err := c.Query(ctx, json.RawMessage(`{"query":"{job=\"auth\"}"}`))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var parsed struct {
		LineCount int `json:"line_count"`
		Lines     []struct {
			Line string `json:"line"`
		} `json:"lines"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if parsed.LineCount != 1 || parsed.Lines[0].Line != "login failed" {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestLokiConnectorHealthCheckFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	m := NewRegistryMetrics(prometheus.NewRegistry())
	c := newLokiConnector(Config{
		ID: "l1", TenantID: "t1", Type: TypeLoki, Endpoint: srv.URL,
	}, testEmit, m)

	res := c.PerformHealthCheck(context.Background())
	if res.Healthy || res.Error == "" {
		t.Fatalf("health = %+v, want unhealthy with error", res)
	}
	if c.Info().Status != StatusError {
		t.Fatalf("status = %s, want error", c.Info().Status)
	}
}
