package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drydock-dev/drydock/internal/domain"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is safe
// to call; every method no-ops.
type Metrics struct {
	pipelineRuns  *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	deployRuns    *prometheus.CounterVec
	deploySeconds *prometheus.HistogramVec
	rollbacks     prometheus.Counter
	healthSamples *prometheus.CounterVec
}

// New registers the engine collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drydock",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by terminal phase.",
		}, []string{"outcome"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "drydock",
			Name:      "pipeline_phase_duration_seconds",
			Help:      "Wall-clock duration of completed pipeline phases.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"phase"}),
		deployRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drydock",
			Name:      "deployments_total",
			Help:      "Rolling deployments by outcome.",
		}, []string{"outcome"}),
		deploySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "drydock",
			Name:      "deployment_duration_seconds",
			Help:      "Wall-clock duration of rolling deployments.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"outcome"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "drydock",
			Name:      "rollbacks_total",
			Help:      "Rollbacks executed, both automatic and manual.",
		}),
		healthSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drydock",
			Name:      "health_samples_total",
			Help:      "Health probe samples taken during evaluation windows.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.pipelineRuns, m.phaseDuration, m.deployRuns, m.deploySeconds, m.rollbacks, m.healthSamples)
	}
	return m
}

// ObservePipeline records a finished pipeline run.
func (m *Metrics) ObservePipeline(outcome string) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(outcome).Inc()
}

// ObservePhase records a completed pipeline phase.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveDeploy records a finished rolling deployment.
func (m *Metrics) ObserveDeploy(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deployRuns.WithLabelValues(outcome).Inc()
	m.deploySeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncRollback counts one executed rollback.
func (m *Metrics) IncRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// ObserveHealthWindow records the samples of one evaluation window.
func (m *Metrics) ObserveHealthWindow(v domain.AggregatedHealthVerdict) {
	if m == nil {
		return
	}
	m.healthSamples.WithLabelValues("pass").Add(float64(v.Passed))
	m.healthSamples.WithLabelValues("fail").Add(float64(v.Samples - v.Passed))
}
