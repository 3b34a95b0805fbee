package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tidegate"

var (
	// ChecksServed counts /check requests by outcome.
	ChecksServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_served_total",
		Help:      "Water-check requests by outcome.",
	}, []string{"outcome"})

	// ChargesApplied counts strike charges by reason.
	ChargesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "charges_applied_total",
		Help:      "Strike charges applied to ledger records.",
	}, []string{"reason"})

	// StrikePoints accumulates total strike points charged.
	StrikePoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strike_points_total",
		Help:      "Total strike points charged, by reason.",
	}, []string{"reason"})

	// GateDecisions counts throttle-gate outcomes.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_decisions_total",
		Help:      "Throttle gate outcomes.",
	}, []string{"decision"})

	// Escalations counts escalation events by trigger.
	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Strike escalation events by trigger.",
	}, []string{"trigger"})

	// PlanShrinkMiles records how far requested radii were shrunk to fit.
	PlanShrinkMiles = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "plan_shrink_miles",
		Help:      "Miles removed from requested radii by the adaptive planner.",
		Buckets:   []float64{0, 0.5, 1, 2, 5, 10, 20, 40},
	})

	// TilesSampled counts grid tiles checked against the water oracle.
	TilesSampled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tiles_sampled_total",
		Help:      "Grid tiles checked against the water oracle.",
	})

	// OracleDuration records full grid sampling latency.
	OracleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "oracle_sample_duration_seconds",
		Help:      "Full grid sampling latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2.5, 10},
	})

	// LedgerRecords is the number of identities currently tracked.
	LedgerRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ledger_records",
		Help:      "Identities currently tracked in the strike ledger.",
	})

	// ActiveCooldowns is the number of identities in an open cooldown window.
	ActiveCooldowns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_cooldowns",
		Help:      "Identities with an open cooldown window.",
	})

	// AppealsPending is the number of stored appeals.
	AppealsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "appeals_pending",
		Help:      "Stored appeals awaiting review.",
	})

	// DBSizeBytes tracks the backing store size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "Backing store size in bytes.",
	})

	// JanitorPruned counts records removed by housekeeping.
	JanitorPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "janitor_pruned_total",
		Help:      "Records removed by the janitor.",
	}, []string{"kind"})
)
