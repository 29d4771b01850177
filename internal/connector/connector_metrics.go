package connector

import "github.com/prometheus/client_golang/prometheus"

// RegistryMetrics holds Prometheus metrics for the connector registry.
type RegistryMetrics struct {
	Active       prometheus.Gauge
	HealthChecks *prometheus.CounterVec
	BreakerTrips prometheus.Counter
	Queries      *prometheus.CounterVec
}

// NewRegistryMetrics registers and returns registry metrics on the given registerer.
func NewRegistryMetrics(reg prometheus.Registerer) *RegistryMetrics {
	m := &RegistryMetrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_connectors_active",
			Help: "Connector instances currently registered.",
		}),
		HealthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_connector_health_checks_total",
			Help: "Connector health checks by result.",
		}, []string{"result"}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_connector_breaker_trips_total",
			Help: "Circuit breaker open transitions.",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_connector_queries_total",
			Help: "Connector queries by type and status.",
		}, []string{"type", "status"}),
	}
	reg.MustRegister(m.Active, m.HealthChecks, m.BreakerTrips, m.Queries)
	return m
}
