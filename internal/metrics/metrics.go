package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for socialpulse
type Metrics struct {
	// Collection
	RecordsCollected *prometheus.CounterVec
	CollectFailures  *prometheus.CounterVec
	CollectAttempts  *prometheus.CounterVec

	// Persistence
	RecordsStored *prometheus.CounterVec

	// Reporting
	Charts *prometheus.CounterVec

	RunDuration prometheus.Histogram
}

// New creates the metrics and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialpulse_records_collected_total",
			Help: "Records returned by collectors",
		}, []string{"platform"}),
		CollectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialpulse_collect_failures_total",
			Help: "Sources that failed to collect, by error kind",
		}, []string{"kind"}),
		CollectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialpulse_collect_attempts_total",
			Help: "Collector calls including retries",
		}, []string{"platform"}),
		RecordsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialpulse_records_stored_total",
			Help: "Records written to the store",
		}, []string{"backend"}),
		Charts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialpulse_charts_total",
			Help: "Chart outcomes by kind and status",
		}, []string{"kind", "status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "socialpulse_run_duration_seconds",
			Help:    "Wall time of one pipeline run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RecordsCollected, m.CollectFailures, m.CollectAttempts, m.RecordsStored, m.Charts, m.RunDuration)
	}
	return m
}
