package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "querypilot"

// Metrics holds the Prometheus collectors for pipeline runs.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	StageDuration    *prometheus.HistogramVec
	AttemptsPerRun   prometheus.Histogram
	GenerationErrors *prometheus.CounterVec
	ExecutionsTotal  *prometheus.CounterVec
	ActiveRuns       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		AttemptsPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_attempts",
			Help:      "Query generation+execution attempts per run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		GenerationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Generation failures by stage and kind.",
		}, []string{"stage", "kind"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Query executions by driver and result.",
		}, []string{"driver", "result"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently in flight.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RunsTotal,
			m.RunDuration,
			m.StageDuration,
			m.AttemptsPerRun,
			m.GenerationErrors,
			m.ExecutionsTotal,
			m.ActiveRuns,
		)
	}
	return m
}

// ObserveStage records how long a stage took. Safe on a nil receiver.
func (m *Metrics) ObserveStage(stage string, started time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// ObserveRun records the terminal outcome of a run. Safe on a nil receiver.
func (m *Metrics) ObserveRun(outcome string, attempts int, started time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(time.Since(started).Seconds())
	if attempts > 0 {
		m.AttemptsPerRun.Observe(float64(attempts))
	}
}

func (m *Metrics) GenerationFailed(stage, kind string) {
	if m == nil {
		return
	}
	m.GenerationErrors.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) Executed(driver string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.ExecutionsTotal.WithLabelValues(driver, result).Inc()
}

func (m *Metrics) RunStarted() {
	if m != nil {
		m.ActiveRuns.Inc()
	}
}

func (m *Metrics) RunDone() {
	if m != nil {
		m.ActiveRuns.Dec()
	}
}
