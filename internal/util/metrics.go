package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartsRepricedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carts_repriced_total",
		Help: "Total number of cart breakdown recomputations",
	})

	VouchersAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vouchers_applied_total",
		Help: "Total number of vouchers attached to carts",
	})

	VouchersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vouchers_rejected_total",
		Help: "Voucher eligibility rejections by path and reason",
	}, []string{"path", "reason"})

	VouchersDetachedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vouchers_detached_total",
		Help: "Vouchers silently removed from carts during recomputation",
	}, []string{"reason"})

	PriceResolutionWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_resolution_warnings_total",
		Help: "Cart lines priced at zero because of missing catalog data",
	}, []string{"reason"})

	VoucherUsageAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucher_usage_adjustments_total",
		Help: "Voucher usage ledger adjustments",
	}, []string{"direction"})

	UserLevelChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "user_level_changes_total",
		Help: "Customer level resyncs by outcome",
	}, []string{"outcome"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created from carts",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order status transitions",
	}, []string{"from", "to"})

	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_runs_total",
		Help: "Reconciliation sweep runs by job and result",
	}, []string{"job", "result"})

	SweepRowsAffectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_rows_affected_total",
		Help: "Rows changed by reconciliation sweeps",
	}, []string{"job"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Latency of reconciliation sweeps",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	TriggerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_events_total",
		Help: "Persistence trigger events consumed by type and outcome",
	}, []string{"type", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
