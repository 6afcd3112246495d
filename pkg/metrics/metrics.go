// Package metrics exposes prometheus collectors for the intake and
// execution pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersAdmitted counts orders that passed reveal admission, by side.
var OrdersAdmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fairbatch_orders_admitted_total",
		Help: "Total number of orders admitted into a batch window",
	},
	[]string{"side"},
)

// Rejections counts rejected commits/reveals by typed failure reason.
var Rejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fairbatch_rejections_total",
		Help: "Total number of rejected requests by reason",
	},
	[]string{"reason"},
)

// RevealLatency records the delay between commit and reveal.
var RevealLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "fairbatch_reveal_latency_seconds",
		Help:    "Latency in seconds between commitment and reveal",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	},
)

// BlockedAttacks counts batch orders removed with a block disposition.
var BlockedAttacks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fairbatch_blocked_attacks_total",
		Help: "Total number of orders blocked by manipulation detection",
	},
	[]string{"kind"},
)

// WindowsProcessed counts batch windows by terminal outcome.
var WindowsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fairbatch_windows_processed_total",
		Help: "Total number of batch windows processed by outcome",
	},
	[]string{"outcome"},
)

// Discrepancies counts cross-system discrepancy reports by category.
var Discrepancies = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fairbatch_discrepancies_total",
		Help: "Total number of cross-system discrepancy reports",
	},
	[]string{"category"},
)

func init() {
	prometheus.MustRegister(OrdersAdmitted, Rejections, RevealLatency)
	prometheus.MustRegister(BlockedAttacks, WindowsProcessed, Discrepancies)
}
