package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poop events credited per zone.
	PoopEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zonemarket_poop_events_total",
			Help: "Poop events credited to each zone.",
		},
		[]string{"zone"},
	)

	ZoneCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zonemarket_zone_count",
			Help: "Cumulative poop count per zone as held by the pricer.",
		},
		[]string{"zone"},
	)

	ZoneRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zonemarket_zone_rate",
			Help: "Current exchange rate per zone (0 until the first sync).",
		},
		[]string{"zone"},
	)

	// Outbound calls to the hosted REST backend.
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zonemarket_backend_requests_total",
			Help: "Requests made to the hosted backend by method and status.",
		},
		[]string{"method", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zonemarket_backend_request_duration_seconds",
			Help:    "Duration of hosted backend requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method"},
	)

	PersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zonemarket_persist_failures_total",
			Help: "Failed reads or writes of persisted market state.",
		},
		[]string{"op"}, // load | save
	)

	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zonemarket_trades_total",
			Help: "Player trades by side and result.",
		},
		[]string{"side", "result"},
	)

	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"},
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zonemarket_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)

	LastPollTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zonemarket_last_poll_timestamp",
			Help: "Unix time of the last successful poll per component.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records time since start on a histogram or summary vec.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

func IncPoop(zone string) {
	PoopEventsTotal.WithLabelValues(zone).Inc()
}

func SetZone(zone string, count int, rate float64) {
	ZoneCount.WithLabelValues(zone).Set(float64(count))
	ZoneRate.WithLabelValues(zone).Set(rate)
}

func IncBackendRequest(method, status string) {
	BackendRequestsTotal.WithLabelValues(method, status).Inc()
}

func IncPersistFailure(op string) {
	PersistFailuresTotal.WithLabelValues(op).Inc()
}

func IncTrade(side, result string) {
	TradesTotal.WithLabelValues(side, result).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastPoll(component string, t time.Time) {
	LastPollTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
