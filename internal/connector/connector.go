// Package connector manages the external data sources investigations query:
// a keyed registry of typed connector instances with factory creation,
// circuit breaking, parallel health sweeps, and lifecycle events.
package connector

import (
	"context"
	"encoding/json"
	"time"
)

// Type identifies a connector implementation.
type Type string

const (
	TypePrometheus Type = "prometheus"
	TypeLoki       Type = "loki"
)

// Status tracks a connector instance's availability.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// Config describes one connector instance to create.
type Config struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenant_id"`
	Type         Type          `json:"type"`
	Endpoint     string        `json:"endpoint"`
	QueryTimeout time.Duration `json:"query_timeout,omitempty"`

	// RatePerSecond caps queries per second. Zero means no limit.
	RatePerSecond int `json:"rate_per_second,omitempty"`
}

// Metrics is a point-in-time counter snapshot for one connector.
type Metrics struct {
	TotalQueries  int64 `json:"total_queries"`
	FailedQueries int64 `json:"failed_queries"`
}

// Info is a connector instance's public state.
type Info struct {
	ID       string       `json:"id"`
	TenantID string       `json:"tenant_id"`
	Type     Type         `json:"type"`
	Status   Status       `json:"status"`
	Metrics  Metrics      `json:"metrics"`
	Breaker  BreakerState `json:"circuit_breaker"`
}

// HealthResult is one connector's answer to a health sweep.
type HealthResult struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
	Metrics Metrics       `json:"metrics"`
}

// Connector is the contract every data source implements. Capability is
// declared by implementing this interface; the registry validates it at
// registration time.
type Connector interface {
	Info() Info
	Initialize(ctx context.Context) error
	Query(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
	PerformHealthCheck(ctx context.Context) HealthResult
	Shutdown(ctx context.Context) error
	ResetCircuitBreaker()
}

// Factory builds a connector from its config. Registered per Type.
type Factory func(cfg Config) (Connector, error)

// EventKind tags registry-level lifecycle notifications.
type EventKind string

const (
	EventHealthOK     EventKind = "health_ok"
	EventHealthFailed EventKind = "health_failed"
	EventBreakerOpen  EventKind = "breaker_open"
	EventBreakerReset EventKind = "breaker_reset"
	EventError        EventKind = "error"
)

// Event is one lifecycle notification fanned out to subscribers.
type Event struct {
	ConnectorID string
	TenantID    string
	Type        Type
	Kind        EventKind
	Err         error
	At          time.Time
}

// Subscriber receives connector lifecycle events. Implementations must not
// block; the registry calls them inline.
type Subscriber interface {
	OnConnectorEvent(ev Event)
}

// Filter narrows List and HealthSweep. Zero values mean no constraint.
type Filter struct {
	TenantID   string
	Type       Type
	ActiveOnly bool
}

func (f Filter) matches(info Info) bool {
	if f.TenantID != "" && info.TenantID != f.TenantID {
		return false
	}
	if f.Type != "" && info.Type != f.Type {
		return false
	}
	if f.ActiveOnly && info.Status != StatusActive {
		return false
	}
	return true
}
