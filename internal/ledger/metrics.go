package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: сколько записей вошло в цепочку
	AppendsTotal prometheus.Counter

	// Дубликаты, молча поглощенные индексом дедупликации
	DedupDropsTotal prometheus.Counter

	// Contention: проигранные CAS на голове (ожидаемо, не ошибка)
	HeadConflictsTotal prometheus.Counter

	// Сегменты
	SegmentsCommitted     prometheus.Counter
	SegmentCommitFailures prometheus.Counter

	// Saturation: записей в недофинализированном буфере
	BufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		AppendsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ledger_appends_total",
			Help: "Total number of audit records appended to the chain.",
		}),
		DedupDropsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ledger_dedup_drops_total",
			Help: "Total number of duplicate mutation events silently discarded.",
		}),
		HeadConflictsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ledger_head_conflicts_total",
			Help: "Total number of lost CAS races on the chain head.",
		}),
		SegmentsCommitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ledger_segments_committed_total",
			Help: "Total number of segments finalized and published.",
		}),
		SegmentCommitFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "ledger_segment_commit_failures_total",
			Help: "Total number of failed segment commits (retried on next flush).",
		}),
		BufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ledger_segment_buffer_fill",
			Help: "Current number of records in the in-progress segment buffer.",
		}),
	}
}
