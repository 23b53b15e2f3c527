package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signaldesk"

// Metrics 汇总流水线与交易相关的 Prometheus 指标。
// 每个实例使用独立的 Registry，测试可以并行创建。
type Metrics struct {
	registry *prometheus.Registry

	Runs          *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	TradeOutcomes *prometheus.CounterVec
	Orphans       prometheus.Counter
	Warnings      *prometheus.CounterVec
	InFlight      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final stage and error kind",
		}, []string{"stage", "kind"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		TradeOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "outcomes_total",
			Help:      "Trade decisions by status and reason",
		}, []string{"status", "reason"}),
		Orphans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "orphaned_records_total",
			Help:      "Signals left in the store after a failed compensating delete",
		}),
		Warnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "signal",
			Name:      "warnings_total",
			Help:      "Soft validation warnings by code",
		}, []string{"code"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Pipeline runs currently executing",
		}),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// RunFinished 与 RunStarted 成对调用。
func (m *Metrics) RunFinished(stage, kind string) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	if kind == "" {
		kind = "none"
	}
	m.Runs.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) TradeOutcome(status, reason string) {
	if m == nil {
		return
	}
	m.TradeOutcomes.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) Orphaned() {
	if m == nil {
		return
	}
	m.Orphans.Inc()
}

func (m *Metrics) Warning(code string) {
	if m == nil {
		return
	}
	m.Warnings.WithLabelValues(code).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 暴露 /metrics。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
