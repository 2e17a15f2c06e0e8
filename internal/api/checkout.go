package api

import (
	"fmt"
	"net/http"
	"time"

	"pos-service/internal/cart"
	"pos-service/internal/models"
	"pos-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type checkoutLine struct {
	Product  cart.Product `json:"product" binding:"required"`
	Variant  cart.Variant `json:"variant"`
	Quantity int          `json:"quantity" binding:"min=0"`
}

type checkoutRequest struct {
	SessionID       string                  `json:"session_id" binding:"required"`
	Lines           []checkoutLine          `json:"lines" binding:"required,min=1,dive"`
	Discount        decimal.Decimal         `json:"discount"`
	PaymentMethod   models.PaymentMethod    `json:"payment_method" binding:"required"`
	Tendered        decimal.Decimal         `json:"tendered"`
	GenerateInvoice bool                    `json:"generate_invoice"`
	Customer        models.CustomerSnapshot `json:"customer"`
	DueDate         *time.Time              `json:"due_date"`
	PaymentTerms    string                  `json:"payment_terms"`
}

// checkout tenders a cart at an open register. The Idempotency-Key header
// is required; replaying it returns the first result.
func (h *Handler) checkout(c *gin.Context) {
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Missing Idempotency-Key header",
			"details": "every checkout attempt needs a client generated key",
		})
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	session, err := h.svc.Sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	sale, err := h.buildCart(session.StoreID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	checkoutReq := &service.CheckoutRequest{
		IdempotencyKey:  key,
		SessionID:       req.SessionID,
		Cart:            sale,
		PaymentMethod:   req.PaymentMethod,
		Tendered:        req.Tendered,
		GenerateInvoice: req.GenerateInvoice,
		Customer:        req.Customer,
		PerformedBy:     operatorID(c),
		PaymentTerms:    req.PaymentTerms,
	}
	if req.DueDate != nil {
		checkoutReq.DueDate = *req.DueDate
	}

	result, err := h.svc.Checkout.Checkout(ctx, checkoutReq)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// buildCart prices the request lines with the store's tax rate
func (h *Handler) buildCart(storeID string, req *checkoutRequest) (*cart.Cart, error) {
	sale, err := cart.New(h.svc.TaxRates.TaxRate(storeID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	for i, line := range req.Lines {
		if err := sale.AddItem(line.Product, line.Variant, line.Quantity); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", service.ErrValidation, i, err)
		}
	}
	if !req.Discount.IsZero() {
		if err := sale.SetDiscount(req.Discount); err != nil {
			return nil, fmt.Errorf("%w: %v", service.ErrValidation, err)
		}
	}
	return sale, nil
}
