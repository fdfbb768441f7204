// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeFault       = "fault"
	OutcomeUnreachable = "unreachable"
	OutcomeAuth        = "auth_failed"
	OutcomeMalformed   = "malformed"
)

var (
	// Inbound requests by camera, service and action.
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onvif_proxy_requests_total",
			Help: "Total number of ONVIF requests handled",
		},
		[]string{"camera", "service", "action", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onvif_proxy_request_duration_seconds",
			Help:    "Duration of ONVIF requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"camera", "service"},
	)

	// Upstream camera exchanges.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onvif_proxy_upstream_requests_total",
			Help: "Total number of requests sent to cameras",
		},
		[]string{"camera", "outcome"},
	)

	UpstreamAuthChallenges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onvif_proxy_upstream_auth_challenges_total",
			Help: "Total number of digest challenges received from cameras",
		},
		[]string{"camera"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onvif_proxy_upstream_breaker_state",
			Help: "Circuit breaker state per camera (0=closed, 1=half-open, 2=open)",
		},
		[]string{"camera"},
	)

	// Event subscriptions.
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "onvif_proxy_active_subscriptions",
			Help: "Current number of active PullPoint subscriptions",
		},
		[]string{"camera"},
	)

	TranslatedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onvif_proxy_translated_events_total",
			Help: "Total number of native events translated to motion events",
		},
		[]string{"camera", "class"},
	)

	DroppedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onvif_proxy_dropped_events_total",
			Help: "Total number of events dropped by reason",
		},
		[]string{"camera", "reason"}, // "overflow", "unmapped"
	)

	NativeResubscribes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onvif_proxy_native_resubscribes_total",
			Help: "Total number of native camera subscriptions recreated",
		},
		[]string{"camera"},
	)
)

// ObserveRequest records one handled request.
func ObserveRequest(camera, service, action, status string, elapsed time.Duration) {
	Requests.WithLabelValues(camera, service, action, status).Inc()
	RequestDuration.WithLabelValues(camera, service).Observe(elapsed.Seconds())
}
