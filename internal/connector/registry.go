package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/errgroup"
)

// Registry errors.
var (
	ErrUnknownType = errors.New("unknown connector type")
	ErrDuplicateID = errors.New("connector id already registered")
	ErrNotFound    = errors.New("connector not found")
)

// Registry is the keyed collection of live connector instances.
type Registry struct {
	logger  log.Logger
	metrics *RegistryMetrics

	mu          sync.RWMutex
	factories   map[Type]Factory
	connectors  map[string]Connector
	subscribers []Subscriber
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger, metrics *RegistryMetrics) *Registry {
	return &Registry{
		logger:     logger,
		metrics:    metrics,
		factories:  make(map[Type]Factory),
		connectors: make(map[string]Connector),
	}
}

// RegisterFactory installs the builder for a connector type.
func (r *Registry) RegisterFactory(t Type, f Factory) {
	r.mu.Lock()
	r.factories[t] = f
	r.mu.Unlock()
}

// Subscribe adds a lifecycle event subscriber.
func (r *Registry) Subscribe(s Subscriber) {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, s)
	r.mu.Unlock()
}

// Emit fans one event out to every subscriber. Exposed so connectors can
// publish their own breaker transitions.
func (r *Registry) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	r.mu.RLock()
	subs := append([]Subscriber(nil), r.subscribers...)
	r.mu.RUnlock()
	for _, s := range subs {
		s.OnConnectorEvent(ev)
	}
}

// Create validates the config, builds the connector through its type's
// factory, initializes it, and stores it. Duplicate ids are rejected.
func (r *Registry) Create(ctx context.Context, cfg Config) (Connector, error) {
	switch {
	case cfg.Type == "":
		return nil, fmt.Errorf("connector type is required")
	case cfg.ID == "":
		return nil, fmt.Errorf("connector id is required")
	case cfg.TenantID == "":
		return nil, fmt.Errorf("connector tenant_id is required")
	}

	r.mu.Lock()
	factory, ok := r.factories[cfg.Type]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}
	if _, exists := r.connectors[cfg.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
	}
	r.mu.Unlock()

	conn, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("build connector %s: %w", cfg.ID, err)
	}
	if err := conn.Initialize(ctx); err != nil {
		r.Emit(Event{ConnectorID: cfg.ID, TenantID: cfg.TenantID, Type: cfg.Type, Kind: EventError, Err: err})
		return nil, fmt.Errorf("initialize connector %s: %w", cfg.ID, err)
	}

	r.mu.Lock()
	if _, exists := r.connectors[cfg.ID]; exists {
		r.mu.Unlock()
		_ = conn.Shutdown(ctx)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, cfg.ID)
	}
	r.connectors[cfg.ID] = conn
	r.metrics.Active.Set(float64(len(r.connectors)))
	r.mu.Unlock()

	r.logger.Info(ctx, "connector registered",
		"connector_id", cfg.ID, "type", cfg.Type, "tenant_id", cfg.TenantID)
	return conn, nil
}

// Get returns a connector by id.
func (r *Registry) Get(id string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connectors[id]
	return conn, ok
}

// Remove shuts a connector down and drops it from the collection.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	conn, ok := r.connectors[id]
	if ok {
		delete(r.connectors, id)
		r.metrics.Active.Set(float64(len(r.connectors)))
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := conn.Shutdown(ctx); err != nil {
		r.logger.Error(ctx, err, "connector shutdown failed", "connector_id", id)
	}
	return nil
}

// List returns the Info of every connector matching the filter, ordered by id.
func (r *Registry) List(f Filter) []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.connectors))
	for _, conn := range r.connectors {
		if info := conn.Info(); f.matches(info) {
			infos = append(infos, info)
		}
	}
	r.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// HealthSweep runs health checks across matching connectors in parallel.
// Each connector's failure is isolated: the result map always contains an
// entry per connector and the sweep itself never fails.
func (r *Registry) HealthSweep(ctx context.Context, f Filter) map[string]HealthResult {
	r.mu.RLock()
	targets := make(map[string]Connector, len(r.connectors))
	for id, conn := range r.connectors {
		if f.matches(conn.Info()) {
			targets[id] = conn
		}
	}
	r.mu.RUnlock()

	var resMu sync.Mutex
	results := make(map[string]HealthResult, len(targets))

	g := &errgroup.Group{}
	g.SetLimit(8)
	for id, conn := range targets {
		g.Go(func() error {
			res := conn.PerformHealthCheck(ctx)
			resMu.Lock()
			results[id] = res
			resMu.Unlock()

			info := conn.Info()
			if res.Healthy {
				r.metrics.HealthChecks.WithLabelValues("ok").Inc()
				r.Emit(Event{ConnectorID: id, TenantID: info.TenantID, Type: info.Type, Kind: EventHealthOK})
			} else {
				r.metrics.HealthChecks.WithLabelValues("failed").Inc()
				r.Emit(Event{
					ConnectorID: id, TenantID: info.TenantID, Type: info.Type,
					Kind: EventHealthFailed, Err: errors.New(res.Error),
				})
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Shutdown sequentially shuts every connector down, tolerating individual
// failures, then clears the collection.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	conns := make([]Connector, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, r.connectors[id])
	}
	r.connectors = make(map[string]Connector)
	r.metrics.Active.Set(0)
	r.mu.Unlock()

	for i, conn := range conns {
		if err := conn.Shutdown(ctx); err != nil {
			r.logger.Error(ctx, err, "connector shutdown failed", "connector_id", ids[i])
		}
	}
	r.logger.Info(ctx, "connector registry shut down", "count", len(conns))
}
