package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseConnectionsGauge tracks database pool state by kind (open/idle/in_use)
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "starpay_database_connections",
		Help: "Database connection pool state",
	}, []string{"state"})

	// WebhooksReceivedCounter counts inbound provider webhooks by provider and chain
	WebhooksReceivedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starpay_webhooks_received_total",
		Help: "Total provider webhooks received",
	}, []string{"provider", "chain"})

	// JobsProcessedCounter counts queue jobs by name and outcome
	JobsProcessedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starpay_jobs_processed_total",
		Help: "Total queue jobs processed",
	}, []string{"name", "status"})

	// JobDurationHistogram records job handler duration in seconds
	JobDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starpay_job_duration_seconds",
		Help:    "Queue job handler duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})

	// WatcherTicksCounter counts watcher scan ticks by chain and outcome
	WatcherTicksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starpay_watcher_ticks_total",
		Help: "Total chain watcher scan ticks",
	}, []string{"chain", "status"})

	// DepositsCreditedCounter counts deposits reaching CREDITED
	DepositsCreditedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starpay_deposits_credited_total",
		Help: "Total deposits credited",
	}, []string{"chain", "token"})

	// FraudAlertsCounter counts raised fraud alerts by kind and severity
	FraudAlertsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "starpay_fraud_alerts_total",
		Help: "Total fraud alerts raised",
	}, []string{"kind", "severity"})
)
