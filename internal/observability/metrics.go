// Package observability экспортирует Prometheus-метрики ядра:
// длительность тика, размеры снапшотов и дельт, коррекции
// реконсиляции, записи демо.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/arena-game/internal/logging"
)

// Metrics инкапсулирует счётчики и гистограммы ядра симуляции
type Metrics struct {
	TicksTotal       prometheus.Counter
	TickDuration     prometheus.Histogram
	SnapshotBytes    prometheus.Histogram
	DeltaBytes       prometheus.Histogram
	FullsSent        prometheus.Counter
	DeltasSent       prometheus.Counter
	FullRequests     prometheus.Counter
	StaleDropped     prometheus.Counter
	Corrections      prometheus.Counter
	DemoRecords      prometheus.Counter
	ConnectedClients prometheus.Gauge
}

// NewMetrics создаёт и регистрирует метрики в указанном реестре.
// nil означает глобальный реестр Prometheus.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena", Name: "ticks_total",
			Help: "Общее число закоммиченных тиков симуляции.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arena", Name: "tick_duration_seconds",
			Help:    "Длительность одного тика симуляции.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		SnapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arena", Name: "snapshot_bytes",
			Help:    "Размер закодированного полного снапшота.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 14),
		}),
		DeltaBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arena", Name: "delta_bytes",
			Help:    "Размер закодированной дельты.",
			Buckets: prometheus.ExponentialBuckets(16, 2, 14),
		}),
		FullsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena", Name: "full_snapshots_sent_total",
			Help: "Отправлено полных снапшотов.",
		}),
		DeltasSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena", Name: "deltas_sent_total",
			Help: "Отправлено дельт.",
		}),
		FullRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena", Name: "full_requests_total",
			Help: "Запросов полного снапшота после потери базиса.",
		}),
		StaleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena", Name: "stale_records_dropped_total",
			Help: "Отброшено устаревших или дублирующих записей.",
		}),
		Corrections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena", Name: "reconcile_corrections_total",
			Help: "Коррекций предсказания после расхождения с сервером.",
		}),
		DemoRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena", Name: "demo_records_total",
			Help: "Записано записей демо.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena", Name: "connected_clients",
			Help: "Подключённых клиентов.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal, m.TickDuration, m.SnapshotBytes, m.DeltaBytes,
		m.FullsSent, m.DeltasSent, m.FullRequests, m.StaleDropped,
		m.Corrections, m.DemoRecords, m.ConnectedClients,
	)
	return m
}

// ObserveTick фиксирует завершение тика
func (m *Metrics) ObserveTick(d time.Duration) {
	m.TicksTotal.Inc()
	m.TickDuration.Observe(d.Seconds())
}

// ServeHTTP запускает HTTP-эндпоинт /metrics. Блокирует вызывающего.
func ServeHTTP(port int) error {
	logger := logging.GetComponentLogger("observability")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("📊 Prometheus метрики доступны на %s/metrics", addr)
	return http.ListenAndServe(addr, mux)
}
