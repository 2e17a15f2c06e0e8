package service

import (
	"context"
	"time"

	"pos-service/internal/cart"
	"pos-service/internal/models"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService creates and reads orders placed outside the till
type OrderService struct {
	store           OrderStore
	events          EventPublisher
	taxRates        TaxRateProvider
	defaultCurrency string
	logger          *zap.Logger
	now             func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, events EventPublisher, taxRates TaxRateProvider, defaultCurrency string) *OrderService {
	return &OrderService{
		store:           store,
		events:          events,
		taxRates:        taxRates,
		defaultCurrency: defaultCurrency,
		logger:          util.GetLogger(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// OrderItemInput is one line of a new order
type OrderItemInput struct {
	Product  cart.Product `json:"product" binding:"required"`
	Variant  cart.Variant `json:"variant"`
	Quantity int          `json:"quantity"`
}

// PaymentInput is one payment of a new order
type PaymentInput struct {
	Method     models.PaymentMethod `json:"method" binding:"required"`
	Amount     decimal.Decimal      `json:"amount"`
	Reference  string               `json:"reference"`
	VoucherURL string               `json:"voucher_url"`
}

// CreateOrderRequest represents a request to create a web or admin order
type CreateOrderRequest struct {
	StoreID           string                   `json:"store_id" binding:"required"`
	Source            models.OrderSource       `json:"source"`
	Customer          models.CustomerSnapshot  `json:"customer"`
	Items             []OrderItemInput         `json:"items" binding:"required,min=1"`
	Payments          []PaymentInput           `json:"payments"`
	ShippingAmount    decimal.Decimal          `json:"shipping_amount"`
	DiscountAmount    decimal.Decimal          `json:"discount_amount"`
	ShippingAddress   models.Address           `json:"shipping_address"`
	InternalNotes     string                   `json:"internal_notes"`
	Currency          string                   `json:"currency"`
	Status            models.OrderStatus       `json:"status"`
	PaymentStatus     models.PaymentStatus     `json:"payment_status"`
	FulfillmentStatus models.FulfillmentStatus `json:"fulfillment_status"`
	IdempotencyKey    string                   `json:"idempotency_key"`
}

// CreateOrder prices the items through a cart and persists the order.
// total = subtotal + tax + shipping - discount, never negative.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.Source == "" {
		req.Source = models.OrderSourceWeb
	}
	if !req.Source.Valid() {
		return nil, validationErr("unknown order source %q", req.Source)
	}
	if len(req.Items) == 0 {
		return nil, validationErr("order has no items")
	}
	if req.ShippingAmount.IsNegative() {
		return nil, validationErr("shipping amount must not be negative")
	}
	if req.Status == "" {
		req.Status = models.OrderStatusPending
	}
	if req.PaymentStatus == "" {
		req.PaymentStatus = models.PaymentStatusPending
	}
	if req.FulfillmentStatus == "" {
		req.FulfillmentStatus = models.FulfillmentStatusPending
	}
	if !req.Status.Valid() || !req.PaymentStatus.Valid() || !req.FulfillmentStatus.Valid() {
		return nil, validationErr("unknown initial status")
	}

	c, err := cart.New(s.taxRates.TaxRate(req.StoreID))
	if err != nil {
		return nil, validationErr("%v", err)
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, validationErr("quantity of %s must be at least 1", item.Product.ID)
		}
		if err := c.AddItem(item.Product, item.Variant, item.Quantity); err != nil {
			return nil, validationErr("%v", err)
		}
	}
	if err := c.SetDiscount(req.DiscountAmount); err != nil {
		return nil, validationErr("%v", err)
	}

	currency := req.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	order := orderFromCart(c, req.StoreID, currency)
	order.Source = req.Source
	order.Customer = req.Customer
	order.ShippingAddress = req.ShippingAddress
	order.InternalNotes = req.InternalNotes
	order.ShippingAmount = req.ShippingAmount.Round(2)
	order.TotalAmount = order.TotalAmount.Add(order.ShippingAmount)
	order.Status = req.Status
	order.PaymentStatus = req.PaymentStatus
	order.FulfillmentStatus = req.FulfillmentStatus
	order.IdempotencyKey = req.IdempotencyKey
	order.CreatedAt = s.now()

	for _, p := range req.Payments {
		if !p.Method.Valid() {
			return nil, validationErr("unknown payment method %q", p.Method)
		}
		if p.Amount.IsNegative() {
			return nil, validationErr("payment amount must not be negative")
		}
		payment := models.OrderPayment{
			ID:         newID(),
			Method:     p.Method,
			Amount:     p.Amount.Round(2),
			Status:     models.PaymentStatusPending,
			Reference:  p.Reference,
			VoucherURL: p.VoucherURL,
		}
		if p.Method == models.PaymentMethodBankTransfer && p.VoucherURL != "" {
			pending := models.VoucherStatusPending
			payment.VoucherStatus = &pending
		}
		order.PaymentMethods = append(order.PaymentMethods, payment)
	}

	saved, created, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, storeErr("create order", err)
	}
	if !created {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", saved.ID))
		return saved, nil
	}

	util.OrdersCreatedTotal.WithLabelValues(string(saved.Source)).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", saved.ID),
		zap.String("source", string(saved.Source)),
		zap.String("total", saved.TotalAmount.String()))

	publishOrderCreated(ctx, s.events, s.logger, saved, s.now())
	return saved, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr("get order", err)
	}
	return order, nil
}

// ListOrders returns one page of orders matching q
func (s *OrderService) ListOrders(ctx context.Context, q models.OrderQuery) (models.OrderPage, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return models.OrderPage{}, validationErr("from must be before to")
	}
	page, err := s.store.ListOrders(ctx, q)
	if err != nil {
		return models.OrderPage{}, storeErr("list orders", err)
	}
	return page, nil
}

// orderFromCart snapshots the cart lines and totals into a new order
func orderFromCart(c *cart.Cart, storeID, currency string) *models.Order {
	lines := c.Lines()
	items := make([]models.OrderItem, 0, len(lines))
	for i, line := range lines {
		items = append(items, models.OrderItem{
			ID:        newID(),
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			SKU:       line.SKU,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal,
			Position:  i,
		})
	}

	return &models.Order{
		ID:             newID(),
		StoreID:        storeID,
		Items:          items,
		Subtotal:       c.Subtotal(),
		TaxAmount:      c.Tax(),
		ShippingAmount: decimal.Zero,
		DiscountAmount: c.Discount(),
		TotalAmount:    c.Total(),
		Currency:       currency,
	}
}

func publishOrderCreated(ctx context.Context, events EventPublisher, logger *zap.Logger, order *models.Order, now time.Time) {
	event := &models.OrderCreatedEvent{
		BaseEvent:   newEvent(models.EventTypeOrderCreated, now),
		OrderID:     order.ID,
		StoreID:     order.StoreID,
		Source:      order.Source,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
	}
	if err := events.PublishOrderCreated(ctx, event); err != nil {
		logger.Error("Failed to publish OrderCreated event",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}
