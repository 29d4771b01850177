package timeout

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the timeout and resource manager.
type Metrics struct {
	Warnings           prometheus.Counter
	Terminations       *prometheus.CounterVec
	ResourceViolations *prometheus.CounterVec
	ActiveRecords      prometheus.Gauge
}

// NewMetrics registers and returns timeout metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_timeout_warnings_total",
			Help: "Deadline warnings fired at 80% elapsed.",
		}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_timeout_terminations_total",
			Help: "Investigations terminated by the timeout manager, by mode.",
		}, []string{"mode"}),
		ResourceViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_resource_violations_total",
			Help: "Resource ceiling violations by kind.",
		}, []string{"kind"}),
		ActiveRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_timeout_records_active",
			Help: "Deadline records currently tracked.",
		}),
	}
	reg.MustRegister(m.Warnings, m.Terminations, m.ResourceViolations, m.ActiveRecords)
	return m
}
