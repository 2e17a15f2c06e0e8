package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSessionOpened      = "SESSION_OPENED"
	EventTypeSessionClosed      = "SESSION_CLOSED"
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeVoucherReviewed    = "VOUCHER_REVIEWED"
	EventTypeInvoiceRequested   = "INVOICE_REQUESTED"
	EventTypeInvoiceIssued      = "INVOICE_ISSUED"
	EventTypeCheckoutCompleted  = "CHECKOUT_COMPLETED"
	EventTypeCheckoutIncomplete = "CHECKOUT_INCOMPLETE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEvent published when a register session opens or closes
type SessionEvent struct {
	BaseEvent
	SessionID    string              `json:"session_id"`
	StoreID      string              `json:"store_id"`
	RegisterID   string              `json:"register_id"`
	CashierID    string              `json:"cashier_id"`
	ExpectedCash decimal.NullDecimal `json:"expected_cash,omitempty"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	StoreID     string          `json:"store_id"`
	Source      OrderSource     `json:"source"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

// OrderStatusChangedEvent published after any status axis changes
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID  string     `json:"order_id"`
	StoreID  string     `json:"store_id"`
	Axis     StatusAxis `json:"axis"`
	From     string     `json:"from"`
	To       string     `json:"to"`
	Version  int64      `json:"version"`
	Override bool       `json:"override,omitempty"`
}

// VoucherReviewedEvent published when a bank-transfer voucher is reviewed
type VoucherReviewedEvent struct {
	BaseEvent
	OrderID    string        `json:"order_id"`
	StoreID    string        `json:"store_id"`
	PaymentID  string        `json:"payment_id"`
	Decision   VoucherStatus `json:"decision"`
	ReviewedBy string        `json:"reviewed_by"`
}

// InvoiceRequestedEvent is the retry-queue message for a deferred invoice
type InvoiceRequestedEvent struct {
	BaseEvent
	OrderID      string    `json:"order_id"`
	StoreID      string    `json:"store_id"`
	IntentID     string    `json:"intent_id,omitempty"`
	DueDate      time.Time `json:"due_date"`
	PaymentTerms string    `json:"payment_terms,omitempty"`
	ActorID      string    `json:"actor_id"`
	Attempt      int       `json:"attempt"`
}

// InvoiceIssuedEvent published when an invoice is created
type InvoiceIssuedEvent struct {
	BaseEvent
	InvoiceID string `json:"invoice_id"`
	Number    string `json:"number"`
	OrderID   string `json:"order_id"`
	StoreID   string `json:"store_id"`
}

// CheckoutEvent published when a checkout saga completes or stalls
type CheckoutEvent struct {
	BaseEvent
	IntentID  string          `json:"intent_id"`
	SessionID string          `json:"session_id"`
	StoreID   string          `json:"store_id"`
	OrderID   string          `json:"order_id"`
	InvoiceID string          `json:"invoice_id,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Step      string          `json:"step,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// StoreScoped is implemented by events that belong to one store
type StoreScoped interface {
	GetStoreID() string
}

func (e *OrderCreatedEvent) GetStoreID() string       { return e.StoreID }
func (e *OrderStatusChangedEvent) GetStoreID() string { return e.StoreID }
func (e *VoucherReviewedEvent) GetStoreID() string    { return e.StoreID }
func (e *CheckoutEvent) GetStoreID() string           { return e.StoreID }
