package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_checkouts_created_total",
		Help: "Total number of checkouts that locked stock, by order kind",
	}, []string{"kind"})

	CheckoutsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_checkouts_completed_total",
		Help: "Total number of checkouts finalized, by order kind and final status",
	}, []string{"kind", "status"})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation transactions",
		Buckets: prometheus.DefBuckets,
	})

	StockReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_stock_reservations_failed_total",
		Help: "Total number of failed stock reservations",
	}, []string{"reason"})

	StockCacheFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_stock_cache_fallbacks_total",
		Help: "Reservations that skipped the Redis gate and went straight to the database",
	})

	InstoreOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_instore_orders_total",
		Help: "In-store orders by final status",
	}, []string{"status"})

	TicketsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_tickets_issued_total",
		Help: "Total number of experience tickets issued",
	})

	TicketsTransferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_tickets_transferred_total",
		Help: "Total number of experience tickets transferred",
	})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_payment_success_total",
		Help: "Total number of successful payments",
	})

	PaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_payment_failed_total",
		Help: "Total number of failed payments",
	})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_notifications_sent_total",
		Help: "Emails handed to the mailer, by template and outcome",
	}, []string{"template", "outcome"})

	SweepExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_sweep_expired_total",
		Help: "Rows expired by the background sweeper",
	}, []string{"target"})

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
