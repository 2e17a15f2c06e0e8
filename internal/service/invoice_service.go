package service

import (
	"context"
	"errors"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService issues invoices from order snapshots
type InvoiceService struct {
	invoices InvoiceStore
	orders   OrderStore
	events   EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(invoices InvoiceStore, orders OrderStore, events EventPublisher) *InvoiceService {
	return &InvoiceService{
		invoices: invoices,
		orders:   orders,
		events:   events,
		logger:   util.GetLogger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInvoiceRequest represents a request to invoice an order
type CreateInvoiceRequest struct {
	OrderID      string    `json:"-"`
	DueDate      time.Time `json:"due_date"`
	PaymentTerms string    `json:"payment_terms"`
	StoreID      string    `json:"store_id"`
	ActorID      string    `json:"-"`
}

// CreateInvoiceFromOrder issues the invoice of an order. It is idempotent
// per order: a second call returns the invoice already issued.
func (s *InvoiceService) CreateInvoiceFromOrder(ctx context.Context, req *CreateInvoiceRequest) (*models.Invoice, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceService.CreateInvoiceFromOrder")
	defer span.End()

	if req.ActorID == "" {
		return nil, validationErr("actor is required")
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, storeErr("get order", err)
	}
	if req.StoreID != "" && req.StoreID != order.StoreID {
		return nil, validationErr("order %s belongs to another store", order.ID)
	}

	issued := s.now()
	due := req.DueDate
	if due.IsZero() {
		due = issued
	}
	if due.Before(issued.Truncate(24 * time.Hour)) {
		return nil, validationErr("due date is before the issue date")
	}

	inv := &models.Invoice{
		ID:             newID(),
		OrderID:        order.ID,
		StoreID:        order.StoreID,
		Customer:       order.Customer,
		Items:          models.LineItems(order.Items),
		Subtotal:       order.Subtotal,
		TaxAmount:      order.TaxAmount,
		ShippingAmount: order.ShippingAmount,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		AmountPaid:     decimal.Zero,
		Currency:       order.Currency,
		Status:         models.InvoiceStatusIssued,
		IssueDate:      issued,
		DueDate:        due,
		PaymentTerms:   req.PaymentTerms,
		IssuedBy:       req.ActorID,
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		inv.AmountPaid = order.TotalAmount
		inv.Status = models.InvoiceStatusPaid
	}

	saved, created, err := s.invoices.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, storeErr("create invoice", err)
	}
	if !created {
		return saved, nil
	}

	util.InvoicesIssuedTotal.Inc()
	s.logger.Info("Invoice issued",
		zap.String("invoice_id", saved.ID),
		zap.String("number", saved.Number),
		zap.String("order_id", saved.OrderID))

	event := &models.InvoiceIssuedEvent{
		BaseEvent: newEvent(models.EventTypeInvoiceIssued, issued),
		InvoiceID: saved.ID,
		Number:    saved.Number,
		OrderID:   saved.OrderID,
		StoreID:   saved.StoreID,
	}
	if err := s.events.PublishInvoiceIssued(ctx, event); err != nil {
		s.logger.Error("Failed to publish InvoiceIssued event", zap.Error(err))
	}
	return saved, nil
}

// GetInvoice retrieves an invoice by ID
func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, storeErr("get invoice", err)
	}
	return inv, nil
}

// ApplyPayment records a payment against an invoice balance
func (s *InvoiceService) ApplyPayment(ctx context.Context, invoiceID string, amount decimal.Decimal) (*models.Invoice, error) {
	if !amount.IsPositive() {
		return nil, validationErr("payment amount must be positive")
	}
	inv, err := s.invoices.ApplyInvoicePayment(ctx, invoiceID, amount.Round(2))
	if errors.Is(err, store.ErrStale) {
		return nil, validationErr("invoice %s is cancelled", invoiceID)
	}
	if err != nil {
		return nil, storeErr("apply invoice payment", err)
	}
	return inv, nil
}
