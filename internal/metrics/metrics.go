package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

var (
	// Marketplace calls by method and result code ("OK" on success).
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_calls_total",
			Help: "Total number of marketplace calls by method and result code.",
		},
		[]string{"method", "code"},
	)

	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_call_duration_seconds",
			Help:    "Duration of marketplace calls in seconds, including waiting for the ledger.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // 100µs → ~1.6s
		},
		[]string{"method"},
	)

	OffersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_offers_created_total",
			Help: "Offers created, by token standard.",
		},
		[]string{"standard"},
	)

	OffersCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_offers_cancelled_total",
			Help: "Offers cancelled by their seller.",
		},
	)

	OffersSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_offers_settled_total",
			Help: "Offers accepted, by payment path and payment asset.",
		},
		[]string{"path", "asset"},
	)

	// Tracks NATS messages processed by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
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

	// Outbound requests to off-chain price sources.
	PriceSourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_source_requests_total",
			Help: "Total number of price source requests (by endpoint and status).",
		},
		[]string{"endpoint", "method", "status"},
	)

	PriceSourceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_source_request_duration_seconds",
			Help:    "Duration of price source requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint", "method"},
	)

	FeedUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_feed_updates_total",
			Help: "Price feed answers submitted to the ledger, by symbol and result.",
		},
		[]string{"symbol", "result"},
	)

	// Tracks cache hits and misses for API key resolution.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful price poll time (seconds since epoch).
	LastPollTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketplace_last_poll_timestamp",
			Help: "Timestamp (unix seconds) of the last successful price poll.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncPriceSourceRequest(endpoint, method, status string) {
	PriceSourceRequests.WithLabelValues(endpoint, method, status).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncFeedUpdate(symbol, result string) {
	FeedUpdates.WithLabelValues(symbol, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastPoll(component string, t time.Time) {
	LastPollTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}

// Recorder feeds marketplace measurements into the collectors above.
type Recorder struct{}

func (Recorder) ObserveCall(method, code string, d time.Duration) {
	CallsTotal.WithLabelValues(method, code).Inc()
	CallDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (Recorder) OfferCreated(standard string) {
	OffersCreated.WithLabelValues(standard).Inc()
}

func (Recorder) OfferCancelled() {
	OffersCancelled.Inc()
}

func (Recorder) OfferSettled(path string, asset model.Address) {
	OffersSettled.WithLabelValues(path, asset.String()).Inc()
}
