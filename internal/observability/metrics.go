package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokenRefreshes       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "token_refreshes_total", Help: "Total token refresh calls issued"})
	TokenRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "token_refresh_failures_total", Help: "Total token refresh calls that failed"})
	AuthRetries          = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "pipeline_auth_retries_total", Help: "Requests retried once after a 401"})

	PollsTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "polls_total", Help: "Total ride detail polls issued"})
	PollErrors     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "poll_errors_total", Help: "Ride detail polls that failed"})
	PollsDiscarded = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "polls_discarded_total", Help: "Poll results discarded against a stale or terminal session"})

	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "phase_transitions_total", Help: "Ride phase transitions applied"},
		[]string{"phase"},
	)
	NoDriverTimeouts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "no_driver_timeouts_total", Help: "No-driver timeout notices fired"})

	RouteFallbacks = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "route_fallbacks_total", Help: "Routes synthesized from the straight-line fallback"})

	BookingsTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "bookings_total", Help: "Bookings successfully submitted"})
	CancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_client", Name: "cancellations_total", Help: "Ride cancellations requested by the user"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_client", Name: "http_requests_total", Help: "Total status API requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_client",
			Name:      "http_request_duration_seconds",
			Help:      "Status API request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
