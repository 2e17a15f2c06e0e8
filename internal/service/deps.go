package service

import (
	"context"
	"time"

	"pos-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStore persists register sessions. CreateSession must reject a
// second open session for a register with store.ErrDuplicate.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.RegisterSession) error
	GetSession(ctx context.Context, id string) (*models.RegisterSession, error)
	GetOpenSession(ctx context.Context, storeID, registerID string) (*models.RegisterSession, error)
	ListOpenSessions(ctx context.Context, storeID string) ([]models.RegisterSession, error)
	CloseSession(ctx context.Context, id, closingNotes string, closedAt time.Time) (*models.RegisterSession, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, bool, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrders(ctx context.Context, q models.OrderQuery) (models.OrderPage, error)
	UpdateOrderField(ctx context.Context, id string, axis models.StatusAxis, from, to string, expectedVersion int64) (int64, time.Time, error)
	GetPayment(ctx context.Context, orderID, paymentID string) (*models.OrderPayment, error)
	ReviewVoucher(ctx context.Context, orderID, paymentID string, decision models.VoucherStatus, reviewer, notes string, at time.Time) (*models.VoucherReview, error)
	SubmitVoucher(ctx context.Context, orderID, paymentID, url string) (*models.OrderPayment, error)
}

type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error)
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	GetInvoiceByOrderID(ctx context.Context, orderID string) (*models.Invoice, error)
	ApplyInvoicePayment(ctx context.Context, id string, amount decimal.Decimal) (*models.Invoice, error)
}

type LedgerStore interface {
	RecordLedgerTransaction(ctx context.Context, txn *models.LedgerTransaction, requireOpen bool) (*models.LedgerTransaction, bool, error)
	GetSaleByOrder(ctx context.Context, orderID string) (*models.LedgerTransaction, error)
	ListLedgerBySession(ctx context.Context, sessionID string) ([]models.LedgerTransaction, error)
}

type IntentStore interface {
	CreateIntent(ctx context.Context, intent *models.CheckoutIntent) (*models.CheckoutIntent, bool, error)
	GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error)
	GetIntentByKey(ctx context.Context, key string) (*models.CheckoutIntent, error)
	UpdateIntent(ctx context.Context, intent *models.CheckoutIntent) error
	ListStaleIntents(ctx context.Context, olderThan time.Time, limit int) ([]models.CheckoutIntent, error)
}

// Store is everything the services persist. Both the Postgres store and
// the in-memory store implement it.
type Store interface {
	SessionStore
	OrderStore
	InvoiceStore
	LedgerStore
	IntentStore
}

// EventPublisher publishes domain events
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event *models.SessionEvent) error
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishVoucherReviewed(ctx context.Context, event *models.VoucherReviewedEvent) error
	PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error
	PublishCheckout(ctx context.Context, event *models.CheckoutEvent) error
	EnqueueInvoice(ctx context.Context, event *models.InvoiceRequestedEvent) error
}

// Locker serializes concurrent attempts on the same key. A nil Locker
// disables locking.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// ResultCache keeps finished checkout results for fast replay
type ResultCache interface {
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string, dest interface{}) (bool, error)
}

// TaxRateProvider supplies the tax rate of a store
type TaxRateProvider interface {
	TaxRate(storeID string) decimal.Decimal
}

// StaticTaxRates is a TaxRateProvider backed by configuration
type StaticTaxRates struct {
	Default decimal.Decimal
	ByStore map[string]decimal.Decimal
}

func (r StaticTaxRates) TaxRate(storeID string) decimal.Decimal {
	if rate, ok := r.ByStore[storeID]; ok {
		return rate
	}
	return r.Default
}

func newEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   newID(),
		EventType: eventType,
		Timestamp: now,
	}
}

func newID() string {
	return uuid.New().String()
}
