package investigation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the investigation orchestrator.
type Metrics struct {
	Started   prometheus.Counter
	Finished  *prometheus.CounterVec
	Duration  prometheus.Histogram
	Active    prometheus.Gauge
	QueueLen  prometheus.Gauge
	QueueWait prometheus.Histogram
}

// NewMetrics registers and returns orchestrator metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_investigations_started_total",
			Help: "Total investigations accepted for processing.",
		}),
		Finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_investigations_finished_total",
			Help: "Total investigations reaching a terminal status.",
		}, []string{"status"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_investigation_duration_seconds",
			Help:    "Wall time from creation to terminal status in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2.3h
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_investigations_active",
			Help: "Investigations currently holding a concurrency slot.",
		}),
		QueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_investigation_queue_length",
			Help: "Investigations waiting for a concurrency slot.",
		}),
		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_investigation_queue_wait_seconds",
			Help:    "Time investigations spend queued before activation.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~3.4m
		}),
	}

	reg.MustRegister(
		m.Started,
		m.Finished,
		m.Duration,
		m.Active,
		m.QueueLen,
		m.QueueWait,
	)

	return m
}
