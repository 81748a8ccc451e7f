package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for pipeline runs.
type Metrics struct {
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	nodeDuration      *prometheus.HistogramVec
	webhookDeliveries *prometheus.CounterVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil registerer keeps the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total number of canvas runs by outcome",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_run_duration_seconds",
				Help:    "Canvas run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_node_duration_seconds",
				Help:    "Node execution latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		webhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_webhook_deliveries_total",
				Help: "Webhook delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.runsTotal, m.runDuration, m.nodeDuration, m.webhookDeliveries)
	}
	return m
}

func (m *Metrics) observeRun(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeNode(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) observeWebhook(delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	m.webhookDeliveries.WithLabelValues(outcome).Inc()
}
