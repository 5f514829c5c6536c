package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kladovka",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by pricing mode.",
		},
		[]string{"pricing_mode"},
	)

	bookingDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kladovka",
			Name:      "booking_deleted_total",
			Help:      "Count of bookings deleted before expiry.",
		},
	)

	accessCodeIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kladovka",
			Name:      "access_code_issued_total",
			Help:      "Count of access code issuances per device by outcome.",
		},
		[]string{"outcome"},
	)

	accessCodeRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kladovka",
			Name:      "access_code_revoked_total",
			Help:      "Count of access code revocations by outcome.",
		},
		[]string{"outcome"},
	)

	cleanupRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kladovka",
			Name:      "cleanup_runs_total",
			Help:      "Count of expired booking cleanup passes.",
		},
	)

	cleanupCodesDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kladovka",
			Name:      "cleanup_codes_deleted_total",
			Help:      "Count of vendor access codes removed by cleanup.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kladovka",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by path and status code.",
		},
		[]string{"path", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingDeleted,
			accessCodeIssued,
			accessCodeRevoked,
			cleanupRuns,
			cleanupCodesDeleted,
			httpRequests,
		)
	})
}

func IncBookingCreated(pricingMode string) {
	bookingCreated.WithLabelValues(pricingMode).Inc()
}

func IncBookingDeleted() {
	bookingDeleted.Inc()
}

func IncCodeIssued(outcome string) {
	accessCodeIssued.WithLabelValues(outcome).Inc()
}

func IncCodeRevoked(outcome string) {
	accessCodeRevoked.WithLabelValues(outcome).Inc()
}

func IncCleanupRun() {
	cleanupRuns.Inc()
}

func AddCleanupCodesDeleted(count int) {
	cleanupCodesDeleted.Add(float64(count))
}

func IncHTTPRequest(path, code string) {
	httpRequests.WithLabelValues(path, code).Inc()
}
