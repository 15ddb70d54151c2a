package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntitlementResolutions counts resolver calls by source (live/cache) and outcome.
	EntitlementResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notepads",
		Subsystem: "entitlements",
		Name:      "resolutions_total",
		Help:      "Entitlement resolutions by source and outcome.",
	}, []string{"source", "outcome"})

	// WebhookRequestsTotal counts billing webhook requests by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notepads",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total billing webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks billing webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notepads",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// TokenGateOutcomes counts Google token release attempts by outcome.
	TokenGateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notepads",
		Subsystem: "tokengate",
		Name:      "requests_total",
		Help:      "Google access token release attempts by outcome.",
	}, []string{"outcome"})

	// ProviderCircuitState reports the billing provider circuit breaker state (0 closed, 1 half-open, 2 open).
	ProviderCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "notepads",
		Subsystem: "billing",
		Name:      "provider_circuit_state",
		Help:      "Billing provider circuit breaker state.",
	})
)
