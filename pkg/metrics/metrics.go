package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersCreated counts orders registered locally, by side.
var OrdersCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "krakensync_orders_created_total",
		Help: "Total number of orders created in the local registry",
	},
	[]string{"side"},
)

// StateTransitions counts applied lifecycle transitions by target state.
var StateTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "krakensync_order_transitions_total",
		Help: "Total number of order state transitions applied",
	},
	[]string{"to_state"},
)

// RejectedTransitions counts transitions refused by the state machine.
var RejectedTransitions = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "krakensync_order_transitions_rejected_total",
		Help: "Total number of transitions rejected by the state machine",
	},
)

// FillsProcessed counts fills recorded against tracked orders.
var FillsProcessed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "krakensync_fills_processed_total",
		Help: "Total number of fills recorded against tracked orders",
	},
)

// DuplicateFills counts fills skipped because the trade ID was already seen.
var DuplicateFills = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "krakensync_fills_duplicate_total",
		Help: "Total number of duplicate fill deliveries ignored",
	},
)

// OrphanFills counts fills referencing order IDs unknown to the registry.
var OrphanFills = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "krakensync_fills_orphan_total",
		Help: "Total number of fills referencing unknown orders",
	},
)

// SyncAnomalies counts feed entries the synchronizer could not apply.
var SyncAnomalies = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "krakensync_sync_anomalies_total",
		Help: "Total number of feed entries that failed to apply",
	},
	[]string{"feed"},
)

// FeedReconnects counts websocket reconnect attempts by the private feed.
var FeedReconnects = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "krakensync_feed_reconnects_total",
		Help: "Total number of private feed reconnect attempts",
	},
)

func init() {
	prometheus.MustRegister(OrdersCreated, StateTransitions, RejectedTransitions)
	prometheus.MustRegister(FillsProcessed, DuplicateFills, OrphanFills)
	prometheus.MustRegister(SyncAnomalies, FeedReconnects)
}
