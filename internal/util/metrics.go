package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "register_sessions_opened_total",
		Help: "Total number of register sessions opened",
	})

	SessionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "register_sessions_closed_total",
		Help: "Total number of register sessions closed",
	})

	SessionOpenRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "register_session_open_rejected_total",
		Help: "Open attempts rejected because the register already had an open session",
	})

	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"source"})

	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Checkout attempts by outcome",
	}, []string{"outcome"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of the checkout saga",
		Buckets: prometheus.DefBuckets,
	})

	LedgerRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_write_retries_total",
		Help: "Ledger writes retried during checkout",
	})

	InvoicesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_issued_total",
		Help: "Total number of invoices issued",
	})

	InvoicesQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_queued_total",
		Help: "Invoices deferred to the retry queue",
	})

	IntentsReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_intents_reconciled_total",
		Help: "Stuck checkout intents handled by the reconciler",
	}, []string{"outcome"})

	StatusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_updates_total",
		Help: "Order status updates by axis and outcome",
	}, []string{"axis", "outcome"})

	VoucherReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucher_reviews_total",
		Help: "Bank transfer voucher reviews by decision",
	}, []string{"decision"})

	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "order_feed_subscribers",
		Help: "Live order feed subscriptions currently open",
	})

	FeedDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_feed_dropped_total",
		Help: "Feed subscribers dropped for falling behind",
	})

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
