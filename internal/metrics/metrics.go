// Package metrics provides Prometheus metrics for the generation pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeDegraded = "degraded"
	OutcomeSkipped  = "skipped"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	StageRunsTotal    *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	PipelineRunsTotal *prometheus.CounterVec
	ChatTurnsTotal    *prometheus.CounterVec
	ActiveRuns        prometheus.Gauge
	HistoryBytes      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		StageRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infragen_stage_runs_total",
				Help: "Total stage executions by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "infragen_stage_duration_seconds",
				Help:    "Stage duration including the generation call.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"stage"},
		),
		PipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infragen_pipeline_runs_total",
				Help: "Total pipeline runs by terminal status.",
			},
			[]string{"status"},
		),
		ChatTurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "infragen_chat_turns_total",
				Help: "Total refinement turns by result.",
			},
			[]string{"result"},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "infragen_active_runs",
				Help: "Number of pipeline runs in progress.",
			},
		),
		HistoryBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "infragen_history_db_bytes",
				Help: "Size of the run history database.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.StageRunsTotal)
	reg.MustRegister(m.StageDuration)
	reg.MustRegister(m.PipelineRunsTotal)
	reg.MustRegister(m.ChatTurnsTotal)
	reg.MustRegister(m.ActiveRuns)
	reg.MustRegister(m.HistoryBytes)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStage increments the stage counter. Safe on a nil receiver.
func (m *Metrics) RecordStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.StageRunsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records stage duration.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordPipeline counts a run that reached a terminal status.
func (m *Metrics) RecordPipeline(status string) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
}

// RecordChat counts a refinement turn.
func (m *Metrics) RecordChat(result string) {
	if m == nil {
		return
	}
	m.ChatTurnsTotal.WithLabelValues(result).Inc()
}

// RunStarted and RunFinished track the in-flight gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}

// SetHistorySize records the run history database size.
func (m *Metrics) SetHistorySize(bytes int64) {
	if m == nil {
		return
	}
	m.HistoryBytes.Set(float64(bytes))
}
