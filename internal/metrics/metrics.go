package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	paymentConfirms = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_confirms_total",
			Help: "Payment confirm attempts by outcome.",
		},
		[]string{"outcome"},
	)

	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Processor webhook deliveries by event type and outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	premiumTokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "premium_tokens_issued_total",
		Help: "Premium access tokens minted.",
	})

	reportDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_deliveries_recorded_total",
		Help: "Report deliveries written to the ledger.",
	})

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init registers all collectors with the default registry. Call once at
// process start.
func Init() {
	prometheus.MustRegister(paymentConfirms, webhookEvents, premiumTokensIssued, reportDeliveries, httpRequestDuration)
}

// Handler serves the registered collectors in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ConfirmOutcome(outcome string) {
	paymentConfirms.WithLabelValues(outcome).Inc()
}

func WebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func PremiumTokenIssued() {
	premiumTokensIssued.Inc()
}

func ReportDeliveryRecorded() {
	reportDeliveries.Inc()
}

// ObserveRequest records one served HTTP request.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	httpRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}
