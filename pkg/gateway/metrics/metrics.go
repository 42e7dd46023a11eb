// Package metrics defines the gateway's Prometheus contract. Metric names and
// labels are a compatibility surface consumed by external dashboards; changing
// them is a breaking change.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Submissions counts order submissions by outcome: accepted, duplicate,
	// gate_rejected, validation_rejected, limit_rejected, broker_error.
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_submissions_total",
			Help: "Order submissions by outcome",
		},
		[]string{"outcome"},
	)

	GateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_gate_rejections_total",
			Help: "Gate rejections by gate name",
		},
		[]string{"gate"},
	)

	ReconciliationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_reconciliation_runs_total",
			Help: "Reconciliation runs by outcome",
		},
		[]string{"outcome"},
	)

	BrokerCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_broker_call_seconds",
			Help:    "Broker call latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	Orphans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_orphans_total",
			Help: "Orphaned orders detected by reconciliation",
		},
	)

	FillsBackfilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_fills_backfilled_total",
			Help: "Synthetic fills created by reconciliation",
		},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhook_events_total",
			Help: "Webhook events by result: applied, duplicate, rejected, error",
		},
		[]string{"result"},
	)

	EventPublishDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_event_publish_drops_total",
			Help: "Order events that could not be published to the stream",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Submissions,
		GateRejections,
		ReconciliationRuns,
		BrokerCallSeconds,
		Orphans,
		FillsBackfilled,
		WebhookEvents,
		EventPublishDrops,
	)
}
