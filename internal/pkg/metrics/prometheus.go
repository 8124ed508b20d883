package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Rule evaluation metrics
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "evaluation",
			Name:      "rules_total",
			Help:      "Total number of rule evaluations",
		},
		[]string{"outcome"},
	)

	evaluationSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "evaluation",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a full evaluation sweep in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
	)

	// Alert instance metrics
	alertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "alert",
			Name:      "triggered_total",
			Help:      "Total number of alert instances triggered",
		},
		[]string{"severity"},
	)

	alertsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "alert",
			Name:      "resolved_total",
			Help:      "Total number of alert instances resolved",
		},
		[]string{"resolved_by"},
	)

	alertsEscalatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "alert",
			Name:      "escalated_total",
			Help:      "Total number of alert instance escalations",
		},
	)

	activeAlerts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "alert",
			Name:      "active_count",
			Help:      "Number of active (non-resolved) alert instances",
		},
		[]string{"severity"},
	)

	// Notification delivery metrics
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Total number of notification delivery attempts",
		},
		[]string{"channel_type", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "notification",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of a single delivery attempt in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"channel_type"},
	)

	retriesScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "notification",
			Name:      "retries_scheduled_total",
			Help:      "Total number of deliveries scheduled for retry",
		},
	)
)

// RecordEvaluation records a single rule evaluation outcome
func RecordEvaluation(outcome string) {
	evaluationsTotal.WithLabelValues(outcome).Inc()
}

// RecordEvaluationSweep records the duration of a full evaluation sweep
func RecordEvaluationSweep(duration time.Duration) {
	evaluationSweepDuration.Observe(duration.Seconds())
}

// RecordAlertTriggered records a newly triggered alert instance
func RecordAlertTriggered(severity string) {
	alertsTriggeredTotal.WithLabelValues(severity).Inc()
}

// RecordAlertResolved records a resolved alert instance
func RecordAlertResolved(resolvedBy string) {
	alertsResolvedTotal.WithLabelValues(resolvedBy).Inc()
}

// RecordAlertEscalated records an alert escalation
func RecordAlertEscalated() {
	alertsEscalatedTotal.Inc()
}

// SetActiveAlerts sets the gauge for active alert instances by severity
func SetActiveAlerts(severity string, count float64) {
	activeAlerts.WithLabelValues(severity).Set(count)
}

// RecordDelivery records a notification delivery attempt
func RecordDelivery(channelType, status string, duration time.Duration) {
	deliveriesTotal.WithLabelValues(channelType, status).Inc()
	deliveryDuration.WithLabelValues(channelType).Observe(duration.Seconds())
}

// RecordRetryScheduled records a delivery scheduled for retry
func RecordRetryScheduled() {
	retriesScheduledTotal.Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
