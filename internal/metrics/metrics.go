package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	// Сеттлмент
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Ledger transfers by entity type and final status",
		},
		[]string{"entity_type", "status"},
	)
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by type and status",
		},
		[]string{"type", "status"},
	)
	PayoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Payouts by type and status",
		},
		[]string{"type", "status"},
	)
	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_notifications_total",
			Help: "Webhook notifications by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	// Фоновые задачи
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Background jobs by name and outcome",
		},
		[]string{"job", "outcome"},
	)
	JobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "job_queue_depth",
			Help: "Pending background jobs",
		},
	)
)

// Handler для /metrics endpoint.
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestLatency,
		TransfersTotal,
		PaymentsTotal,
		PayoutsTotal,
		WebhooksTotal,
		JobsTotal,
		JobQueueDepth,
	)
}
