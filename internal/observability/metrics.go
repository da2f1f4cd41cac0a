// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Feed metrics
	FeedNotifications prometheus.Counter
	FeedReconnects    prometheus.Counter
	FeedCircuitOpens  prometheus.Counter
	FeedState         *prometheus.GaugeVec
	PollerRounds      prometheus.Counter
	PollerSignatures  prometheus.Counter

	// Classifier metrics
	EventsClassified  *prometheus.CounterVec
	AmbiguousDiscards prometheus.Counter
	DetailFetchErrors prometheus.Counter

	// Monitor metrics
	SessionsArmed     prometheus.Counter
	SessionsExpired   prometheus.Counter
	SessionsCancelled prometheus.Counter
	TriggersFired     prometheus.Counter
	IgnoredBuys       prometheus.Counter

	// Execution metrics
	WalletsLiquidated  *prometheus.CounterVec
	BundleSubmissions  *prometheus.CounterVec
	FallbackSells      *prometheus.CounterVec
	SubmissionLatency  prometheus.Histogram
	LiquidationLatency prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastEventObserved prometheus.Gauge
	UptimeSeconds     prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "launch_guard"
	}

	return &Metrics{
		// Feed metrics
		FeedNotifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "notifications_total",
			Help:      "Total number of log notifications received",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),
		FeedCircuitOpens: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "circuit_opens_total",
			Help:      "Total number of handles closed after exhausting reconnects",
		}),
		FeedState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "handle_state",
			Help:      "Number of feed handles per state",
		}, []string{"state"}),
		PollerRounds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "poller_rounds_total",
			Help:      "Total number of fallback polling rounds",
		}),
		PollerSignatures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "poller_signatures_total",
			Help:      "Total number of new signatures surfaced by the poller",
		}),

		// Classifier metrics
		EventsClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "events_total",
			Help:      "Total number of trade events classified by direction",
		}, []string{"direction"}),
		AmbiguousDiscards: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "ambiguous_discards_total",
			Help:      "Total number of transactions discarded as ambiguous",
		}),
		DetailFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "detail_fetch_errors_total",
			Help:      "Total number of transaction detail fetch failures",
		}),

		// Monitor metrics
		SessionsArmed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sessions_armed_total",
			Help:      "Total number of monitor sessions armed",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sessions_expired_total",
			Help:      "Total number of monitor sessions expired",
		}),
		SessionsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sessions_cancelled_total",
			Help:      "Total number of monitor sessions cancelled",
		}),
		TriggersFired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "triggers_fired_total",
			Help:      "Total number of sessions that fired their trigger",
		}),
		IgnoredBuys: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ignored_buys_total",
			Help:      "Total number of qualifying buys skipped via the ignore set",
		}),

		// Execution metrics
		WalletsLiquidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "wallets_total",
			Help:      "Total number of per-wallet liquidations by status",
		}, []string{"status"}),
		BundleSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "bundle_submissions_total",
			Help:      "Total number of bundle submissions by status",
		}, []string{"status"}),
		FallbackSells: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "fallback_sells_total",
			Help:      "Total number of sequential fallback submissions by status",
		}, []string{"status"}),
		SubmissionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "submission_latency_seconds",
			Help:      "Per-transaction submission latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		LiquidationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "liquidation_latency_seconds",
			Help:      "Trigger-to-outcome latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastEventObserved: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_observed_timestamp",
			Help:      "Unix timestamp of the last trade event observed",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFeedNotification increments the notifications received counter.
func RecordFeedNotification() {
	DefaultMetrics.FeedNotifications.Inc()
}

// RecordFeedReconnect increments the reconnect attempts counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordFeedCircuitOpen increments the circuit-open counter.
func RecordFeedCircuitOpen() {
	DefaultMetrics.FeedCircuitOpens.Inc()
}

// SetFeedState moves a handle between state gauges.
func SetFeedState(from, to string) {
	if from != "" {
		DefaultMetrics.FeedState.WithLabelValues(from).Dec()
	}
	if to != "" {
		DefaultMetrics.FeedState.WithLabelValues(to).Inc()
	}
}

// RecordPollerRound records one fallback polling round and its new signatures.
func RecordPollerRound(newSignatures int) {
	DefaultMetrics.PollerRounds.Inc()
	DefaultMetrics.PollerSignatures.Add(float64(newSignatures))
}

// RecordClassified increments the classified events counter.
func RecordClassified(direction string) {
	DefaultMetrics.EventsClassified.WithLabelValues(direction).Inc()
}

// RecordAmbiguousDiscard increments the ambiguous discards counter.
func RecordAmbiguousDiscard() {
	DefaultMetrics.AmbiguousDiscards.Inc()
}

// RecordDetailFetchError increments the detail fetch error counter.
func RecordDetailFetchError() {
	DefaultMetrics.DetailFetchErrors.Inc()
}

// RecordSessionArmed increments the sessions armed counter.
func RecordSessionArmed() {
	DefaultMetrics.SessionsArmed.Inc()
}

// RecordSessionExpired increments the sessions expired counter.
func RecordSessionExpired() {
	DefaultMetrics.SessionsExpired.Inc()
}

// RecordSessionCancelled increments the sessions cancelled counter.
func RecordSessionCancelled() {
	DefaultMetrics.SessionsCancelled.Inc()
}

// RecordTriggerFired increments the triggers fired counter.
func RecordTriggerFired() {
	DefaultMetrics.TriggersFired.Inc()
}

// RecordIgnoredBuy increments the ignored buys counter.
func RecordIgnoredBuy() {
	DefaultMetrics.IgnoredBuys.Inc()
}

// RecordWalletLiquidation records one per-wallet liquidation result.
func RecordWalletLiquidation(success bool) {
	status := "failed"
	if success {
		status = "ok"
	}
	DefaultMetrics.WalletsLiquidated.WithLabelValues(status).Inc()
}

// RecordBundleSubmission records a bundle submission attempt.
func RecordBundleSubmission(status string) {
	DefaultMetrics.BundleSubmissions.WithLabelValues(status).Inc()
}

// RecordFallbackSell records a sequential fallback submission.
func RecordFallbackSell(status string) {
	DefaultMetrics.FallbackSells.WithLabelValues(status).Inc()
}

// RecordSubmissionLatency records per-transaction submission latency.
func RecordSubmissionLatency(seconds float64) {
	DefaultMetrics.SubmissionLatency.Observe(seconds)
}

// RecordLiquidationLatency records trigger-to-outcome latency.
func RecordLiquidationLatency(seconds float64) {
	DefaultMetrics.LiquidationLatency.Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordEventObserved updates the last-event health gauge.
func RecordEventObserved(unixSeconds int64) {
	DefaultMetrics.LastEventObserved.Set(float64(unixSeconds))
}
