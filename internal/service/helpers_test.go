package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"pos-service/internal/cart"
	"pos-service/internal/models"
	"pos-service/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu         sync.Mutex
	types      []string
	enqueued   []*models.InvoiceRequestedEvent
	enqueueErr error
}

func (p *recordingPublisher) record(eventType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
}

func (p *recordingPublisher) PublishSessionEvent(ctx context.Context, event *models.SessionEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *recordingPublisher) PublishVoucherReviewed(ctx context.Context, event *models.VoucherReviewedEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *recordingPublisher) PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *recordingPublisher) PublishCheckout(ctx context.Context, event *models.CheckoutEvent) error {
	p.record(event.EventType)
	return nil
}

func (p *recordingPublisher) EnqueueInvoice(ctx context.Context, event *models.InvoiceRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enqueueErr != nil {
		return p.enqueueErr
	}
	p.enqueued = append(p.enqueued, event)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.types {
		if t == eventType {
			n++
		}
	}
	return n
}

// faultyStore injects failures into selected writes of the memory store
// faultyStore injects failures into selected writes of the memory store.
// The block flags make a write hang until its context ends.
type faultyStore struct {
	*memory.Store
	createOrderErr   error
	invoiceErr       error
	ledgerErr        error
	reviewErr        error
	blockCreateOrder bool
	blockLedger      bool
	ledgerCalls      int
}

func (f *faultyStore) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	if f.blockCreateOrder {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	if f.createOrderErr != nil {
		return nil, false, f.createOrderErr
	}
	return f.Store.CreateOrder(ctx, order)
}

func (f *faultyStore) ReviewVoucher(ctx context.Context, orderID, paymentID string, decision models.VoucherStatus, reviewer, notes string, at time.Time) (*models.VoucherReview, error) {
	if f.reviewErr != nil {
		return nil, f.reviewErr
	}
	return f.Store.ReviewVoucher(ctx, orderID, paymentID, decision, reviewer, notes, at)
}

func (f *faultyStore) CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	if f.invoiceErr != nil {
		return nil, false, f.invoiceErr
	}
	return f.Store.CreateInvoice(ctx, inv)
}

func (f *faultyStore) RecordLedgerTransaction(ctx context.Context, txn *models.LedgerTransaction, requireOpen bool) (*models.LedgerTransaction, bool, error) {
	f.ledgerCalls++
	if f.blockLedger {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
	if f.ledgerErr != nil {
		return nil, false, f.ledgerErr
	}
	return f.Store.RecordLedgerTransaction(ctx, txn, requireOpen)
}

// mapCache is a ResultCache that round-trips through JSON like the Redis one
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (c *mapCache) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]byte)
	}
	c.entries[key] = data
	return nil
}

func (c *mapCache) GetIdempotencyKey(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	data, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

type fixture struct {
	store    *faultyStore
	events   *recordingPublisher
	sessions *SessionService
	ledger   *LedgerService
	invoices *InvoiceService
	orders   *OrderService
	status   *StatusEngine
	vouchers *VoucherService
	checkout *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := &faultyStore{Store: memory.New()}
	events := &recordingPublisher{}
	rates := StaticTaxRates{Default: decimal.Zero}

	f := &fixture{store: st, events: events}
	f.sessions = NewSessionService(st, events, "DOP")
	f.ledger = NewLedgerService(st, st)
	f.invoices = NewInvoiceService(st, st, events)
	f.orders = NewOrderService(st, events, rates, "DOP")
	f.status = NewStatusEngine(st, events)
	f.vouchers = NewVoucherService(st, events)
	f.checkout = NewOrchestrator(st, f.ledger, f.invoices, events, CheckoutConfig{
		Timeout:        2 * time.Second,
		LedgerAttempts: 3,
		LedgerBackoff:  time.Millisecond,
	})
	return f
}

func (f *fixture) openSession(t *testing.T, storeID, registerID string, opening int64) *models.RegisterSession {
	t.Helper()
	session, err := f.sessions.OpenSession(context.Background(), &OpenSessionRequest{
		StoreID:        storeID,
		RegisterID:     registerID,
		CashierID:      "cashier-1",
		OpeningBalance: decimal.NewFromInt(opening),
	})
	require.NoError(t, err)
	return session
}

func tshirtCart(t *testing.T, qty int) *cart.Cart {
	t.Helper()
	c, err := cart.New(decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, c.AddItem(
		cart.Product{ID: "prod-tshirt", Name: "T-Shirt", Price: decimal.NewFromInt(350)},
		cart.Variant{ID: "var-m-blk", SKU: "TSHIRT-M-BLK", Name: "M / Black"},
		qty,
	))
	return c
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
