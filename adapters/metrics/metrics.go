// Package metrics provides Prometheus metrics collection for creditd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for creditd.
type Collector struct {
	// Settlement metrics
	SettlementsTotal    *prometheus.CounterVec
	DuplicateEvents     prometheus.Counter
	CreditsGranted      *prometheus.CounterVec
	ReconciliationFlags prometheus.Counter

	// Consumption metrics
	CreditsConsumed     prometheus.Counter
	InsufficientRejects prometheus.Counter

	// Referral metrics
	ReferralRedemptions *prometheus.CounterVec
	ReferralBonuses     prometheus.Counter

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return newWith(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return newWith(promauto.With(reg))
}

func newWith(factory promauto.Factory) *Collector {
	return &Collector{
		SettlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "settlements_total",
				Help:      "Total settlement attempts by outcome",
			},
			[]string{"outcome"}, // settled, duplicate, unresolved, self_payment, failed
		),
		DuplicateEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "duplicate_payment_events_total",
				Help:      "Payment deliveries rejected by the dedup gate",
			},
		),
		CreditsGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "credits_granted_total",
				Help:      "Credits granted by grant type",
			},
			[]string{"type"}, // purchase, referral_bonus
		),
		ReconciliationFlags: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "reconciliation_flags_total",
				Help:      "Payment events flagged for operator reconciliation",
			},
		),
		CreditsConsumed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "credits_consumed_total",
				Help:      "Credits debited for calculations",
			},
		),
		InsufficientRejects: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "insufficient_credit_rejections_total",
				Help:      "Consumption attempts rejected for insufficient balance",
			},
		),
		ReferralRedemptions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "referral_redemptions_total",
				Help:      "Referral redemption attempts by outcome",
			},
			[]string{"outcome"}, // redeemed, already_redeemed, not_found, self_referral
		),
		ReferralBonuses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "referral_bonuses_total",
				Help:      "Referral bonus pairs applied",
			},
		),
		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "creditd",
				Name:      "webhook_deliveries_total",
				Help:      "Inbound payment webhook deliveries by HTTP status",
			},
			[]string{"status"},
		),
	}
}
