package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restoration_webhooks_received_total",
		Help: "Total number of webhook deliveries received, by provider.",
	},
		[]string{"provider"},
	)

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restoration_webhooks_rejected_total",
		Help: "Total number of webhook deliveries rejected before processing.",
	},
		[]string{"provider", "reason"},
	)

	TransitionsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restoration_transitions_applied_total",
		Help: "Total number of accepted lifecycle transitions.",
	})

	TransitionsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restoration_transitions_skipped_total",
		Help: "Total number of transitions skipped as stale or out of order.",
	})

	ForceAdvancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restoration_force_advances_total",
		Help: "Total number of fulfillment-driven force advances to shipped.",
	})

	IntegrityConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "restoration_integrity_conflicts_total",
		Help: "Total number of events whose linking keys matched a different record.",
	})

	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restoration_reconcile_runs_total",
		Help: "Total number of batch reconciliation runs, by outcome.",
	},
		[]string{"outcome"},
	)

	OrderLookupCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "restoration_order_lookup_cache_items",
		Help: "Current number of resolved order references in the lookup cache.",
	})
)
