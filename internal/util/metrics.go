package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of draft orders built from carts",
	})

	OrdersCheckoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_checkout_total",
		Help: "Total number of orders marked for checkout",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders observed as paid",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order creations",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	}, []string{"from_status"})

	PaymentResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_results_total",
		Help: "Payment results reported by the gateway",
	}, []string{"result"})

	PaymentPollTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_poll_ticks_total",
		Help: "Payment status checks by outcome",
	}, []string{"outcome"})

	StockDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_decrement_latency_seconds",
		Help:    "Latency of the order creation transaction",
		Buckets: prometheus.DefBuckets,
	})

	InsufficientStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_insufficient_total",
		Help: "Total number of decrements refused for lack of stock",
	})

	StockRestoredUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_restored_units_total",
		Help: "Total number of units returned to stock by cancellations",
	})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Notifications that could not be delivered",
	}, []string{"event_type"})

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
