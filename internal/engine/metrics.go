package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла обработка (включая походы в хранилища)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов по тирам
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов по кодам причин
	DenialTotal *prometheus.CounterVec

	// Rate-limit отказы: метрика вместо lineage (не комплаенс-событие)
	RateLimitedTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker version store (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Заполненность буфера ops-журнала (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: если регистр не передан, используем локальный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sandarb_request_duration_seconds",
			Help:    "Histogram of delivery request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tier", "decision"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sandarb_requests_total",
			Help: "Total number of processed requests.",
		}, []string{"tier"}),

		DenialTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sandarb_denials_total",
			Help: "Total number of denials by reason code.",
		}, []string{"reason"}),

		RateLimitedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sandarb_rate_limited_total",
			Help: "Requests bounced by the sliding-window limiter.",
		}, []string{"tier"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "sandarb_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"store"}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sandarb_journal_buffer_utilization",
			Help: "Current number of events in the ops journal buffer.",
		}),
	}
}
