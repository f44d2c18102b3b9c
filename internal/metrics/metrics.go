package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Search
	searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searches_total",
			Help: "Auto-search decisions and explicit searches by outcome.",
		},
		[]string{"outcome"}, // started, coalesced, suppressed, resumed, cached, discarded, failed
	)
	recordLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_record_lookups_total",
			Help: "Search record store lookups by key kind and result.",
		},
		[]string{"by", "result"}, // by: params|id; result: hit|miss|corrupt
	)
	offersExpiredDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offers_expired_dropped_total",
			Help: "Offers dropped from ranking because they are past the booking buffer.",
		},
	)

	// Rates
	rateFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_rate_fetches_total",
			Help: "Exchange rate fetches by result.",
		},
		[]string{"result"}, // success, fallback, unavailable
	)

	// Booking
	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_step_transitions_total",
			Help: "Booking wizard transitions by target step and direction.",
		},
		[]string{"step", "direction"},
	)
	bookingOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_outcomes_total",
			Help: "Booking submissions by result.",
		},
		[]string{"status"}, // BOOKED, FAILED, AWAITING_AUTH, REFUSED
	)
	bookingJournalStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booking_journal_status_count",
			Help: "Current count of booking journal rows by status.",
		},
		[]string{"status"},
	)

	// Kafka
	kafkaMessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kafka_messages_sent_total",
			Help: "Total number of Kafka messages successfully sent.",
		},
	)
	kafkaMessagesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kafka_messages_processed_total",
			Help: "Total number of Kafka messages successfully processed.",
		},
	)
	kafkaErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_errors_total",
			Help: "Total number of Kafka-related errors.",
		},
		[]string{"component", "operation"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (high watermark - current offset - 1).",
		},
		[]string{"topic", "partition"},
	)

	// Outbox
	outboxMessagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_messages_count",
			Help: "Current count of outbox messages by status.",
		},
		[]string{"status"},
	)
	outboxMessagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_messages_sent_total",
			Help: "Total number of outbox messages marked as sent.",
		},
	)
	outboxMessagesFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_messages_failed_total",
			Help: "Total number of outbox messages marked as failed.",
		},
	)
	outboxProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_processing_duration_seconds",
			Help:    "Time spent sending a single outbox message (seconds).",
			Buckets: prometheus.DefBuckets,
		},
	)
	outboxRetryCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_retries_total",
			Help: "Total number of outbox send retries (failed attempts).",
		},
	)
	outboxLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_lag_seconds",
			Help:    "Lag between outbox message creation and send attempt (seconds).",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	outboxPendingCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_count",
			Help: "Current number of pending outbox messages.",
		},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			searchesTotal,
			recordLookups,
			offersExpiredDropped,
			rateFetches,

			bookingTransitions,
			bookingOutcomes,
			bookingJournalStatus,

			kafkaMessagesSent,
			kafkaMessagesProcessed,
			kafkaErrors,
			kafkaConsumerLag,

			outboxMessagesTotal,
			outboxMessagesSentTotal,
			outboxMessagesFailedTotal,
			outboxProcessingDuration,
			outboxRetryCount,
			outboxLagSeconds,
			outboxPendingCount,
		)
		registerCacheMetrics()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// --- Search ---
func IncSearch(outcome string)              { searchesTotal.WithLabelValues(outcome).Inc() }
func IncRecordLookup(by, result string)     { recordLookups.WithLabelValues(by, result).Inc() }
func AddOffersExpiredDropped(n int)         { offersExpiredDropped.Add(float64(max0(n))) }
func IncRateFetch(result string)            { rateFetches.WithLabelValues(result).Inc() }
func IncBookingTransition(step, dir string) { bookingTransitions.WithLabelValues(step, dir).Inc() }
func IncBookingOutcome(status string)       { bookingOutcomes.WithLabelValues(status).Inc() }

// --- Kafka ---
func IncKafkaSent()      { kafkaMessagesSent.Inc() }
func IncKafkaProcessed() { kafkaMessagesProcessed.Inc() }
func IncKafkaError(component, operation string) {
	kafkaErrors.WithLabelValues(component, operation).Inc()
}
func SetKafkaConsumerLag(topic string, partition int32, lag int64) {
	if lag < 0 {
		lag = 0
	}
	kafkaConsumerLag.WithLabelValues(topic, strconv.Itoa(int(partition))).Set(float64(lag))
}

// --- Outbox ---
func IncOutboxSent()                          { outboxMessagesSentTotal.Inc() }
func IncOutboxFailed()                        { outboxMessagesFailedTotal.Inc() }
func ObserveOutboxProcessing(d time.Duration) { outboxProcessingDuration.Observe(d.Seconds()) }
func IncOutboxRetry()                         { outboxRetryCount.Inc() }
func ObserveOutboxLagSeconds(sec float64) {
	if sec < 0 {
		sec = 0
	}
	outboxLagSeconds.Observe(sec)
}

// --- Gauges (DB collectors) ---
func SetBookingJournalStatusCount(status string, count int64) {
	bookingJournalStatus.WithLabelValues(status).Set(float64(max0(int(count))))
}
func SetOutboxStatusCount(status string, count int64) {
	outboxMessagesTotal.WithLabelValues(status).Set(float64(max0(int(count))))
}
func SetOutboxPendingCount(count int64) {
	outboxPendingCount.Set(float64(max0(int(count))))
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
