package api

import (
	"context"
	"net/http"
	"time"

	"pos-service/internal/feed"
	"pos-service/internal/models"
	"pos-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups everything the HTTP layer calls into
type Services struct {
	Sessions *service.SessionService
	Ledger   *service.LedgerService
	Orders   *service.OrderService
	Status   *service.StatusEngine
	Vouchers *service.VoucherService
	Invoices *service.InvoiceService
	Checkout *service.Orchestrator
	Hub      *feed.Hub
	TaxRates service.TaxRateProvider
}

// Options configures the cross-cutting middleware
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handler contains HTTP handlers
type Handler struct {
	svc     Services
	opts    Options
	checks  map[string]Pinger
	limiter *operatorRateLimiter
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(svc Services, opts Options, checks map[string]Pinger) *Handler {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 10
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 20
	}
	return &Handler{
		svc:     svc,
		opts:    opts,
		checks:  checks,
		limiter: newOperatorRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(corsMiddleware(h.opts.AllowedOrigins))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(operatorMiddleware(h.opts.JWTSecret))
	v1.Use(h.limiter.Middleware())
	{
		v1.POST("/sessions", h.openSession)
		v1.GET("/sessions/:id", h.getSession)
		v1.POST("/sessions/:id/close", h.closeSession)
		v1.GET("/sessions/:id/transactions", h.listSessionTransactions)
		v1.GET("/stores/:storeId/sessions", h.listActiveSessions)
		v1.GET("/stores/:storeId/registers/:registerId/session", h.getActiveSession)
		v1.POST("/transactions", h.registerTransaction)

		v1.POST("/checkout", h.checkout)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateStatus(models.AxisOrder))
		v1.PATCH("/orders/:id/payment-status", h.updateStatus(models.AxisPayment))
		v1.PATCH("/orders/:id/fulfillment-status", h.updateStatus(models.AxisFulfillment))

		v1.POST("/orders/:id/payments/:paymentId/voucher", h.submitVoucher)
		v1.POST("/orders/:id/payments/:paymentId/voucher/approve", h.approveVoucher)
		v1.POST("/orders/:id/payments/:paymentId/voucher/reject", h.rejectVoucher)

		v1.POST("/orders/:id/invoice", h.createInvoice)
		v1.GET("/invoices/:id", h.getInvoice)
		v1.POST("/invoices/:id/payments", h.applyInvoicePayment)

		v1.GET("/feed", h.orderFeed)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings the store and any optional backends
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"details": failed,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
