package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes pipeline telemetry. A nil *Metrics is valid and records
// nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsFailed    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	gateFailures  *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "pipeline",
			Name:      "runs_started_total",
			Help:      "Pipeline runs started, by business type.",
		}, []string{"business_type"}),
		runsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "pipeline",
			Name:      "runs_completed_total",
			Help:      "Pipeline runs that reached END, by business type.",
		}, []string{"business_type"}),
		runsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "pipeline",
			Name:      "runs_failed_total",
			Help:      "Pipeline runs aborted, by failing stage.",
		}, []string{"stage"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insight",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		gateFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "pipeline",
			Name:      "gate_failures_total",
			Help:      "Validation gate failures, by code.",
		}, []string{"code"}),
	}
}

func (m *Metrics) RunStarted(businessType string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(businessType).Inc()
}

func (m *Metrics) RunCompleted(businessType string) {
	if m == nil {
		return
	}
	m.runsCompleted.WithLabelValues(businessType).Inc()
}

func (m *Metrics) RunFailed(stage string) {
	if m == nil {
		return
	}
	m.runsFailed.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) GateFailure(code string) {
	if m == nil {
		return
	}
	m.gateFailures.WithLabelValues(code).Inc()
}
