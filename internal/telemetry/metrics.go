package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the driver's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	attempts    *prometheus.CounterVec
	suspensions *prometheus.CounterVec
	replayed    prometheus.Counter
	batchSize   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
// Registering twice on the same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "merlin_task_attempts_total",
			Help: "Task execution attempts by outcome status",
		}, []string{"status"}),
		suspensions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "merlin_suspensions_total",
			Help: "Task suspensions by wake condition kind",
		}, []string{"kind"}),
		replayed: f.NewCounter(prometheus.CounterOpts{
			Name: "merlin_breadcrumbs_replayed_total",
			Help: "Breadcrumbs consumed while replaying task logs",
		}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "merlin_commit_batch_size",
			Help:    "Events committed to the timeline per wave",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// ObserveAttempt counts one attempt with the given outcome status.
func (m *Metrics) ObserveAttempt(status string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(status).Inc()
}

// ObserveSuspension counts one suspension of the given kind.
func (m *Metrics) ObserveSuspension(kind string) {
	if m == nil {
		return
	}
	m.suspensions.WithLabelValues(kind).Inc()
}

// AddReplayed adds n consumed breadcrumbs.
func (m *Metrics) AddReplayed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.replayed.Add(float64(n))
}

// ObserveCommit records the number of events in one committed wave.
func (m *Metrics) ObserveCommit(events int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(events))
}
