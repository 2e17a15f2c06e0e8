// Package memory is an in-process store with the same contracts as the
// Postgres store. It backs STORE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"

	"github.com/shopspring/decimal"
)

// Store keeps every entity in maps guarded by one RWMutex
type Store struct {
	mu sync.RWMutex

	sessionsByID     map[string]models.RegisterSession
	activeSessionKey map[string]string

	ordersByID    map[string]*models.Order
	ordersByIdem  map[string]string
	invoicesByID  map[string]models.Invoice
	invoiceByOrd  map[string]string
	invoiceSeq    map[string]int
	ledger        []models.LedgerTransaction
	saleByOrder   map[string]int
	intentsByID   map[string]models.CheckoutIntent
	intentsByIdem map[string]string

	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		sessionsByID:     make(map[string]models.RegisterSession),
		activeSessionKey: make(map[string]string),
		ordersByID:       make(map[string]*models.Order),
		ordersByIdem:     make(map[string]string),
		invoicesByID:     make(map[string]models.Invoice),
		invoiceByOrd:     make(map[string]string),
		invoiceSeq:       make(map[string]int),
		saleByOrder:      make(map[string]int),
		intentsByID:      make(map[string]models.CheckoutIntent),
		intentsByIdem:    make(map[string]string),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source, used by tests that age intents
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

func registerKey(storeID, registerID string) string {
	return storeID + "|" + registerID
}

// Sessions

// CreateSession inserts a session, failing with store.ErrDuplicate when
// the register already has an open one
func (s *Store) CreateSession(ctx context.Context, session *models.RegisterSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := registerKey(session.StoreID, session.RegisterID)
	if _, ok := s.activeSessionKey[key]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.sessionsByID[session.ID]; ok {
		return store.ErrDuplicate
	}
	session.Status = models.SessionStatusOpen
	if session.OpenedAt.IsZero() {
		session.OpenedAt = s.now()
	}
	s.sessionsByID[session.ID] = *session
	s.activeSessionKey[key] = session.ID
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*models.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

// GetOpenSession returns the open session of a register
func (s *Store) GetOpenSession(ctx context.Context, storeID, registerID string) (*models.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeSessionKey[registerKey(storeID, registerID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	session := s.sessionsByID[id]
	return &session, nil
}

// ListOpenSessions returns the open sessions of a store
func (s *Store) ListOpenSessions(ctx context.Context, storeID string) ([]models.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.RegisterSession{}
	for _, id := range s.activeSessionKey {
		session := s.sessionsByID[id]
		if session.StoreID == storeID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// CloseSession closes an open session and computes its expected cash
func (s *Store) CloseSession(ctx context.Context, id, closingNotes string, closedAt time.Time) (*models.RegisterSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !session.IsOpen() {
		return nil, store.ErrStale
	}

	expected := session.OpeningBalance
	for i := range s.ledger {
		if s.ledger[i].SessionID == id {
			expected = expected.Add(s.ledger[i].CashEffect())
		}
	}

	session.Status = models.SessionStatusClosed
	session.ClosedAt = &closedAt
	session.ClosingNotes = closingNotes
	session.ExpectedCash = decimal.NewNullDecimal(expected)
	s.sessionsByID[id] = session
	delete(s.activeSessionKey, registerKey(session.StoreID, session.RegisterID))
	return &session, nil
}

// Orders

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem{}, o.Items...)
	c.PaymentMethods = append([]models.OrderPayment{}, o.PaymentMethods...)
	return &c
}

// CreateOrder stores an order, returning the existing one for a known
// idempotency key
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.IdempotencyKey != "" {
		if id, ok := s.ordersByIdem[order.IdempotencyKey]; ok {
			return cloneOrder(s.ordersByID[id]), false, nil
		}
	}
	if _, ok := s.ordersByID[order.ID]; ok {
		return nil, false, store.ErrDuplicate
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
	}
	order.UpdatedAt = order.CreatedAt
	order.Version = 1
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Items[i].Position = i
	}
	for i := range order.PaymentMethods {
		order.PaymentMethods[i].OrderID = order.ID
		order.PaymentMethods[i].Position = i
	}

	s.ordersByID[order.ID] = cloneOrder(order)
	if order.IdempotencyKey != "" {
		s.ordersByIdem[order.IdempotencyKey] = order.ID
	}
	return cloneOrder(order), true, nil
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetOrderByIdempotencyKey retrieves an order by its idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.ordersByIdem[key]
	if !ok || key == "" {
		return nil, store.ErrNotFound
	}
	return cloneOrder(s.ordersByID[id]), nil
}

// ListOrders filters, sorts and pages a snapshot of all orders
func (s *Store) ListOrders(ctx context.Context, q models.OrderQuery) (models.OrderPage, error) {
	s.mu.RLock()
	all := make([]models.Order, 0, len(s.ordersByID))
	for _, o := range s.ordersByID {
		all = append(all, *cloneOrder(o))
	}
	s.mu.RUnlock()

	return models.ApplyQuery(all, q), nil
}

// UpdateOrderField compare-and-swaps one status field
func (s *Store) UpdateOrderField(ctx context.Context, id string, axis models.StatusAxis, from, to string, expectedVersion int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.ordersByID[id]
	if !ok {
		return 0, time.Time{}, store.ErrNotFound
	}
	if expectedVersion != 0 && o.Version != expectedVersion {
		return 0, time.Time{}, store.ErrStale
	}

	var current *string
	switch axis {
	case models.AxisOrder:
		current = (*string)(&o.Status)
	case models.AxisPayment:
		current = (*string)(&o.PaymentStatus)
	case models.AxisFulfillment:
		current = (*string)(&o.FulfillmentStatus)
	default:
		return 0, time.Time{}, fmt.Errorf("unknown status axis %q", axis)
	}
	if *current != from {
		return 0, time.Time{}, store.ErrStale
	}

	*current = to
	o.Version++
	o.UpdatedAt = s.now()
	return o.Version, o.UpdatedAt, nil
}

func (s *Store) payment(orderID, paymentID string) (*models.OrderPayment, error) {
	o, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	p, ok := o.Payment(paymentID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

// GetPayment retrieves one payment of an order
func (s *Store) GetPayment(ctx context.Context, orderID, paymentID string) (*models.OrderPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.payment(orderID, paymentID)
	if err != nil {
		return nil, err
	}
	c := *p
	return &c, nil
}

// ReviewVoucher records a one-shot decision on a pending voucher and
// applies its effect on the order under the same lock
func (s *Store) ReviewVoucher(ctx context.Context, orderID, paymentID string, decision models.VoucherStatus, reviewer, notes string, at time.Time) (*models.VoucherReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.payment(orderID, paymentID)
	if err != nil {
		return nil, err
	}
	if p.VoucherStatus == nil || *p.VoucherStatus != models.VoucherStatusPending {
		return nil, store.ErrStale
	}
	o := s.ordersByID[orderID]
	review := &models.VoucherReview{PreviousPaymentStatus: o.PaymentStatus}

	p.VoucherStatus = &decision
	p.VoucherNotes = notes
	p.ReviewedBy = reviewer
	p.ReviewedAt = &at
	if decision == models.VoucherStatusApproved {
		p.Status = models.PaymentStatusPaid
		o.PaymentStatus = models.PaymentStatusPaid
	}
	o.Version++
	o.UpdatedAt = s.now()

	review.Payment = *p
	review.PaymentStatus = o.PaymentStatus
	review.Version = o.Version
	review.UpdatedAt = o.UpdatedAt
	return review, nil
}

// SubmitVoucher attaches a proof of payment to a bank-transfer payment
// that has never carried a voucher
func (s *Store) SubmitVoucher(ctx context.Context, orderID, paymentID, url string) (*models.OrderPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.payment(orderID, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != models.PaymentMethodBankTransfer || p.VoucherStatus != nil {
		return nil, store.ErrStale
	}

	pending := models.VoucherStatusPending
	p.VoucherURL = url
	p.VoucherStatus = &pending
	p.VoucherNotes = ""
	p.ReviewedBy = ""
	p.ReviewedAt = nil

	o := s.ordersByID[orderID]
	o.Version++
	o.UpdatedAt = s.now()

	c := *p
	return &c, nil
}

// Invoices

// CreateInvoice numbers and stores an invoice, once per order
func (s *Store) CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.invoiceByOrd[inv.OrderID]; ok {
		existing := s.invoicesByID[id]
		return &existing, false, nil
	}

	year := inv.IssueDate.Year()
	seqKey := fmt.Sprintf("%s|%d", inv.StoreID, year)
	s.invoiceSeq[seqKey]++
	inv.Number = store.FormatInvoiceNumber(year, s.invoiceSeq[seqKey])
	inv.CreatedAt = s.now()
	inv.UpdatedAt = inv.CreatedAt

	s.invoicesByID[inv.ID] = *inv
	s.invoiceByOrd[inv.OrderID] = inv.ID
	c := *inv
	return &c, true, nil
}

// GetInvoice retrieves an invoice by ID
func (s *Store) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inv, nil
}

// GetInvoiceByOrderID retrieves the invoice of an order
func (s *Store) GetInvoiceByOrderID(ctx context.Context, orderID string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.invoiceByOrd[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	inv := s.invoicesByID[id]
	return &inv, nil
}

// ApplyInvoicePayment adds a payment to an invoice balance
func (s *Store) ApplyInvoicePayment(ctx context.Context, id string, amount decimal.Decimal) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if inv.Status == models.InvoiceStatusCancelled {
		return nil, store.ErrStale
	}
	inv.AmountPaid = inv.AmountPaid.Add(amount)
	if inv.AmountPaid.GreaterThanOrEqual(inv.TotalAmount) {
		inv.Status = models.InvoiceStatusPaid
	}
	inv.UpdatedAt = s.now()
	s.invoicesByID[id] = inv
	return &inv, nil
}

// Ledger

// RecordLedgerTransaction appends a ledger entry; a sale is recorded
// once per order
func (s *Store) RecordLedgerTransaction(ctx context.Context, txn *models.LedgerTransaction, requireOpen bool) (*models.LedgerTransaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn.Type == models.LedgerTypeSale && txn.OrderID != nil {
		if i, ok := s.saleByOrder[*txn.OrderID]; ok {
			existing := s.ledger[i]
			return &existing, false, nil
		}
	}
	if requireOpen {
		session, ok := s.sessionsByID[txn.SessionID]
		if !ok || !session.IsOpen() {
			return nil, false, store.ErrStale
		}
	}
	if txn.Timestamp.IsZero() {
		txn.Timestamp = s.now()
	}

	s.ledger = append(s.ledger, *txn)
	if txn.Type == models.LedgerTypeSale && txn.OrderID != nil {
		s.saleByOrder[*txn.OrderID] = len(s.ledger) - 1
	}
	c := *txn
	return &c, true, nil
}

// GetSaleByOrder retrieves the sale entry of an order
func (s *Store) GetSaleByOrder(ctx context.Context, orderID string) (*models.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.saleByOrder[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	txn := s.ledger[i]
	return &txn, nil
}

// ListLedgerBySession returns a session's ledger in insertion order
func (s *Store) ListLedgerBySession(ctx context.Context, sessionID string) ([]models.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.LedgerTransaction{}
	for _, txn := range s.ledger {
		if txn.SessionID == sessionID {
			out = append(out, txn)
		}
	}
	return out, nil
}

// Checkout intents

// CreateIntent stores a checkout intent unless its key is taken
func (s *Store) CreateIntent(ctx context.Context, intent *models.CheckoutIntent) (*models.CheckoutIntent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.intentsByIdem[intent.IdempotencyKey]; ok {
		existing := s.intentsByID[id]
		return &existing, false, nil
	}
	intent.CreatedAt = s.now()
	intent.UpdatedAt = intent.CreatedAt
	s.intentsByID[intent.ID] = *intent
	s.intentsByIdem[intent.IdempotencyKey] = intent.ID
	c := *intent
	return &c, true, nil
}

// GetIntent retrieves a checkout intent by ID
func (s *Store) GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.intentsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &intent, nil
}

// GetIntentByKey retrieves a checkout intent by idempotency key
func (s *Store) GetIntentByKey(ctx context.Context, key string) (*models.CheckoutIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.intentsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	intent := s.intentsByID[id]
	return &intent, nil
}

// UpdateIntent saves the progress fields of a checkout intent
func (s *Store) UpdateIntent(ctx context.Context, intent *models.CheckoutIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.intentsByID[intent.ID]
	if !ok {
		return store.ErrNotFound
	}
	stored.Status = intent.Status
	stored.OrderID = intent.OrderID
	stored.InvoiceID = intent.InvoiceID
	stored.InvoiceState = intent.InvoiceState
	stored.LedgerTransactionID = intent.LedgerTransactionID
	stored.LastError = intent.LastError
	stored.Attempts = intent.Attempts
	stored.UpdatedAt = s.now()
	s.intentsByID[intent.ID] = stored
	intent.UpdatedAt = stored.UpdatedAt
	return nil
}

// ListStaleIntents returns unfinished intents last touched before olderThan
func (s *Store) ListStaleIntents(ctx context.Context, olderThan time.Time, limit int) ([]models.CheckoutIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.CheckoutIntent{}
	for _, intent := range s.intentsByID {
		if intent.Status != models.IntentStatusPending && intent.Status != models.IntentStatusOrderCreated {
			continue
		}
		if intent.UpdatedAt.Before(olderThan) {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
