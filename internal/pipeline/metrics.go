package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	StageDuration      *prometheus.HistogramVec
	StageRetries       *prometheus.CounterVec
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionsInFlight prometheus.Gauge
	IngestRequests     *prometheus.CounterVec
}

// NewMetrics регистрирует метрики конвейера. При nil-реестре используется
// одноразовый: удобно в тестах, где глобальная регистрация мешает.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evw_pipeline_stage_duration_seconds",
			Help:    "Stage execution latency by stage and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage", "outcome"}),
		StageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evw_pipeline_stage_retries_total",
			Help: "Retry attempts per stage.",
		}, []string{"stage"}),
		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evw_pipeline_executions_total",
			Help: "Finished executions by terminal state.",
		}, []string{"state"}),
		ExecutionsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evw_pipeline_executions_in_flight",
			Help: "Executions currently running.",
		}),
		IngestRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evw_ingest_requests_total",
			Help: "Ingest API requests by result code.",
		}, []string{"code"}),
	}
}
