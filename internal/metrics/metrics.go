package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks outbound calls to the Quake API.
	QuakeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quake_api_requests_total",
			Help: "Total number of Quake API requests made (by endpoint, method and status).",
		},
		[]string{"endpoint", "method", "status"},
	)

	QuakeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quake_api_request_duration_seconds",
			Help:    "Duration of Quake API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms → ~10s
		},
		[]string{"endpoint", "method"},
	)

	// Counts client-credentials exchanges by result (ok | rejected | error).
	AuthRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quake_auth_refresh_total",
			Help: "Number of OAuth2 token exchanges by result.",
		},
		[]string{"result"},
	)

	PagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quake_pages_fetched_total",
			Help: "Number of list pages fetched by collection.",
		},
		[]string{"collection"},
	)

	// outcome = valid | missing_timestamp | bad_timestamp | stale | bad_version | missing_signature | mismatch | no_secret
	WebhookVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quake_webhook_verifications_total",
			Help: "Inbound webhook verification outcomes.",
		},
		[]string{"outcome"},
	)

	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quake_sync_records_total",
			Help: "Records written to the snapshot store by collection and result.",
		},
		[]string{"collection", "result"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quake_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)

	LastSyncTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quake_last_sync_timestamp",
			Help: "Timestamp (unix seconds) of the last successful catalogue sync per collection.",
		},
		[]string{"collection"},
	)
)

// ObserveDuration records the time since start on a histogram or summary vector.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

func IncQuakeRequest(endpoint, method, status string) {
	QuakeRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func IncAuthRefresh(result string) {
	AuthRefreshTotal.WithLabelValues(result).Inc()
}

func IncPageFetched(collection string) {
	PagesFetchedTotal.WithLabelValues(collection).Inc()
}

func IncWebhookVerification(outcome string) {
	WebhookVerificationsTotal.WithLabelValues(outcome).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncSyncRecord(collection, result string) {
	SyncRecordsTotal.WithLabelValues(collection, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastSync(collection string, t time.Time) {
	LastSyncTimestamp.WithLabelValues(collection).Set(float64(t.Unix()))
}
