package policy

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for policy evaluation.
type Metrics struct {
	Decisions     *prometheus.CounterVec
	SoDRejections prometheus.Counter
}

// NewMetrics registers and returns policy metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_policy_decisions_total",
			Help: "Policy evaluations by decision.",
		}, []string{"decision"}),
		SoDRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_policy_sod_rejections_total",
			Help: "Approval resolutions rejected by segregation of duties.",
		}),
	}
	reg.MustRegister(m.Decisions, m.SoDRejections)
	return m
}
