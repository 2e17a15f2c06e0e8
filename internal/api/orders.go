package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/pagination"
	"pos-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// createOrder handles web and admin order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.svc.Orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.svc.Orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	q, err := parseOrderQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.svc.Orders.ListOrders(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// orderQueryParams is the query-string form of models.OrderQuery. List
// filters accept repeated parameters or comma separated values.
type orderQueryParams struct {
	StoreID           string   `form:"store_id"`
	Text              string   `form:"q"`
	Status            []string `form:"status"`
	PaymentStatus     []string `form:"payment_status"`
	FulfillmentStatus []string `form:"fulfillment_status"`
	Source            []string `form:"source"`
	From              string   `form:"from"`
	To                string   `form:"to"`
	SortBy            string   `form:"sort_by"`
	SortDesc          bool     `form:"sort_desc"`
	pagination.Params
}

func parseOrderQuery(c *gin.Context) (models.OrderQuery, error) {
	var p orderQueryParams
	if err := c.ShouldBindQuery(&p); err != nil {
		return models.OrderQuery{}, err
	}

	q := models.OrderQuery{
		StoreID:             p.StoreID,
		Text:                p.Text,
		Statuses:            splitValues[models.OrderStatus](p.Status),
		PaymentStatuses:     splitValues[models.PaymentStatus](p.PaymentStatus),
		FulfillmentStatuses: splitValues[models.FulfillmentStatus](p.FulfillmentStatus),
		Sources:             splitValues[models.OrderSource](p.Source),
		SortBy:              p.SortBy,
		SortDesc:            p.SortDesc,
		Params:              p.Params,
	}

	var err error
	if q.From, err = parseTime("from", p.From); err != nil {
		return models.OrderQuery{}, err
	}
	if q.To, err = parseTime("to", p.To); err != nil {
		return models.OrderQuery{}, err
	}
	return q, nil
}

func splitValues[T ~string](raw []string) []T {
	var out []T
	for _, r := range raw {
		for _, v := range strings.Split(r, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, T(v))
			}
		}
	}
	return out
}

// parseTime accepts RFC 3339 timestamps or plain dates
func parseTime(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s %q: want RFC 3339 or YYYY-MM-DD", name, raw)
}

type statusUpdateRequest struct {
	Status   string `json:"status" binding:"required"`
	Version  *int64 `json:"version"`
	Override bool   `json:"override"`
}

// updateStatus returns the PATCH handler for one status axis
func (h *Handler) updateStatus(axis models.StatusAxis) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statusUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		opts := []service.StatusOption{service.WithActor(operatorID(c))}
		if req.Version != nil {
			opts = append(opts, service.WithExpectedVersion(*req.Version))
		}
		if req.Override {
			opts = append(opts, service.WithOverride())
		}

		order, err := h.svc.Status.UpdateAxis(c.Request.Context(), c.Param("id"), axis, req.Status, opts...)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

type submitVoucherRequest struct {
	VoucherURL string `json:"voucher_url" binding:"required"`
}

func (h *Handler) submitVoucher(c *gin.Context) {
	var req submitVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	payment, err := h.svc.Vouchers.SubmitVoucher(c.Request.Context(), c.Param("id"), c.Param("paymentId"), req.VoucherURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) approveVoucher(c *gin.Context) {
	h.reviewVoucher(c, h.svc.Vouchers.ApproveVoucher)
}

func (h *Handler) rejectVoucher(c *gin.Context) {
	h.reviewVoucher(c, h.svc.Vouchers.RejectVoucher)
}

func (h *Handler) reviewVoucher(c *gin.Context, review func(ctx context.Context, req *service.ReviewRequest) (*models.OrderPayment, error)) {
	var req service.ReviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	req.OrderID = c.Param("id")
	req.PaymentID = c.Param("paymentId")
	req.Reviewer = operatorID(c)

	payment, err := review(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) createInvoice(c *gin.Context) {
	var req service.CreateInvoiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	req.OrderID = c.Param("id")
	req.ActorID = operatorID(c)

	inv, err := h.svc.Invoices.CreateInvoiceFromOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *Handler) getInvoice(c *gin.Context) {
	inv, err := h.svc.Invoices.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

type invoicePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) applyInvoicePayment(c *gin.Context) {
	var req invoicePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	inv, err := h.svc.Invoices.ApplyPayment(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
