package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"pos-service/internal/models"
	"pos-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes one keyed event to a topic
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events and invoice retries
type EventPublisher struct {
	events   Publisher
	invoices Publisher
}

// NewEventPublisher creates a new event publisher. invoices receives the
// deferred invoice requests; it may be the same publisher as events.
func NewEventPublisher(events, invoices Publisher) *EventPublisher {
	return &EventPublisher{events: events, invoices: invoices}
}

func orderKey(orderID string) string {
	return fmt.Sprintf("order-%s", orderID)
}

// PublishSessionEvent publishes SESSION_OPENED or SESSION_CLOSED
func (ep *EventPublisher) PublishSessionEvent(ctx context.Context, event *models.SessionEvent) error {
	return ep.events.PublishEvent(ctx, fmt.Sprintf("session-%s", event.SessionID), event)
}

// PublishOrderCreated publishes ORDER_CREATED
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.events.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderStatusChanged publishes ORDER_STATUS_CHANGED
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.events.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishVoucherReviewed publishes VOUCHER_REVIEWED
func (ep *EventPublisher) PublishVoucherReviewed(ctx context.Context, event *models.VoucherReviewedEvent) error {
	return ep.events.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishInvoiceIssued publishes INVOICE_ISSUED
func (ep *EventPublisher) PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error {
	return ep.events.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishCheckout publishes CHECKOUT_COMPLETED or CHECKOUT_INCOMPLETE
func (ep *EventPublisher) PublishCheckout(ctx context.Context, event *models.CheckoutEvent) error {
	return ep.events.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EnqueueInvoice puts a deferred invoice request on the retry queue
func (ep *EventPublisher) EnqueueInvoice(ctx context.Context, event *models.InvoiceRequestedEvent) error {
	return ep.invoices.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderChanged     func(ctx context.Context, storeID, orderID string) error
	onInvoiceRequested func(context.Context, *models.InvoiceRequestedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderChanged registers a handler called for every event that changes
// how an order appears in listings
func (eh *EventHandler) OnOrderChanged(handler func(ctx context.Context, storeID, orderID string) error) {
	eh.onOrderChanged = handler
}

// OnInvoiceRequested registers a handler for deferred invoice requests
func (eh *EventHandler) OnInvoiceRequested(handler func(context.Context, *models.InvoiceRequestedEvent) error) {
	eh.onInvoiceRequested = handler
}

// orderRef carries the fields shared by every order-scoped event
type orderRef struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated,
		models.EventTypeOrderStatusChanged,
		models.EventTypeVoucherReviewed,
		models.EventTypeInvoiceIssued,
		models.EventTypeCheckoutCompleted,
		models.EventTypeCheckoutIncomplete:
		if eh.onOrderChanged != nil {
			var ref orderRef
			if err := json.Unmarshal(msg.Value, &ref); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onOrderChanged(ctx, ref.StoreID, ref.OrderID)
		}

	case models.EventTypeInvoiceRequested:
		if eh.onInvoiceRequested != nil {
			var event models.InvoiceRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal InvoiceRequested event: %w", err)
			}
			return eh.onInvoiceRequested(ctx, &event)
		}

	case models.EventTypeSessionOpened, models.EventTypeSessionClosed:
		// audit only

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
