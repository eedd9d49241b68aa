package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starterkit_ledger_operations_total",
			Help: "Ledger operations by transaction type and outcome",
		},
		[]string{"type", "outcome"},
	)
	invitationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starterkit_invitation_transitions_total",
			Help: "Invitation status transitions by target status",
		},
		[]string{"status"},
	)
	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starterkit_sweep_runs_total",
			Help: "Expiration sweep runs by outcome",
		},
		[]string{"outcome"},
	)
	sweepExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "starterkit_sweep_expired_invitations_total",
			Help: "Invitations expired by the sweep",
		},
	)
	referralRewards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starterkit_referral_rewards_total",
			Help: "Referral reward attempts by result",
		},
		[]string{"result"},
	)
	effectDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starterkit_effect_deliveries_total",
			Help: "Side-effect deliveries by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)
