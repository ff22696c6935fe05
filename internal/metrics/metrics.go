package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movielinks_updates_total",
			Help: "Updates handled, by the router state they ended in",
		},
		[]string{"state"},
	)

	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movielinks_tokens_issued_total",
			Help: "Access tokens minted",
		},
	)

	TokenRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movielinks_token_redemptions_total",
			Help: "Token redemption attempts by result",
		},
		[]string{"result"}, // ok, not_found, owner_mismatch, expired, consumed, error
	)

	SubscriptionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movielinks_subscription_checks_total",
			Help: "Channel membership checks by result",
		},
		[]string{"result"}, // member, not_member, error, disabled
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movielinks_deliveries_total",
			Help: "Delivery attempts by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	ExternalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movielinks_external_calls_total",
			Help: "Calls to TMDB and the shortener by result",
		},
		[]string{"service", "result"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "movielinks_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)
