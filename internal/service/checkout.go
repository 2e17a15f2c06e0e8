package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/cart"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	stepInvoice = "invoice"
	stepLedger  = "ledger"
)

// CheckoutConfig bounds a checkout attempt
type CheckoutConfig struct {
	Timeout        time.Duration
	LedgerAttempts int
	LedgerBackoff  time.Duration
	LockTTL        time.Duration
	ResultTTL      time.Duration
}

// DefaultCheckoutConfig returns the settings used when none are given
func DefaultCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		Timeout:        15 * time.Second,
		LedgerAttempts: 3,
		LedgerBackoff:  100 * time.Millisecond,
		LockTTL:        30 * time.Second,
		ResultTTL:      24 * time.Hour,
	}
}

// CheckoutRequest is one tender of a cart at a register
type CheckoutRequest struct {
	IdempotencyKey  string
	SessionID       string
	Cart            *cart.Cart
	PaymentMethod   models.PaymentMethod
	Tendered        decimal.Decimal
	GenerateInvoice bool
	Customer        models.CustomerSnapshot
	PerformedBy     string
	DueDate         time.Time
	PaymentTerms    string
}

// CheckoutResult is what the cashier sees after a completed sale
type CheckoutResult struct {
	IntentID      string               `json:"intent_id"`
	OrderID       string               `json:"order_id"`
	InvoiceID     string               `json:"invoice_id,omitempty"`
	InvoiceQueued bool                 `json:"invoice_queued"`
	SessionID     string               `json:"session_id"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal      `json:"total"`
	Change        decimal.Decimal      `json:"change"`
	Currency      string               `json:"currency"`
	Replayed      bool                 `json:"replayed,omitempty"`
}

// Orchestrator runs the checkout saga: order, then invoice, then ledger.
// Progress is written to a CheckoutIntent keyed by the idempotency key so
// a retried or interrupted checkout resumes instead of duplicating.
type Orchestrator struct {
	store    Store
	ledger   *LedgerService
	invoices *InvoiceService
	events   EventPublisher
	locker   Locker
	cache    ResultCache
	cfg      CheckoutConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates a new checkout orchestrator
func NewOrchestrator(store Store, ledger *LedgerService, invoices *InvoiceService, events EventPublisher, cfg CheckoutConfig) *Orchestrator {
	def := DefaultCheckoutConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.LedgerAttempts <= 0 {
		cfg.LedgerAttempts = def.LedgerAttempts
	}
	if cfg.LedgerBackoff <= 0 {
		cfg.LedgerBackoff = def.LedgerBackoff
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = def.ResultTTL
	}
	return &Orchestrator{
		store:    store,
		ledger:   ledger,
		invoices: invoices,
		events:   events,
		cfg:      cfg,
		logger:   util.GetLogger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithLocker serializes concurrent submits of the same idempotency key
func (o *Orchestrator) WithLocker(l Locker) *Orchestrator {
	o.locker = l
	return o
}

// WithResultCache enables fast replay of completed checkouts
func (o *Orchestrator) WithResultCache(c ResultCache) *Orchestrator {
	o.cache = c
	return o
}

func resultCacheKey(key string) string {
	return "checkout:" + key
}

// Checkout tenders the cart. Failures before the order exists leave the
// cart and all records untouched. Once the order exists, a failed ledger
// write returns *PartialCheckoutError and the intent stays open for the
// reconciler; a failed invoice is queued and the sale still completes.
func (o *Orchestrator) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	ctx, span := util.StartSpan(ctx, "Orchestrator.Checkout",
		attribute.String("checkout.idempotency_key", req.IdempotencyKey),
		attribute.String("checkout.session_id", req.SessionID),
		attribute.String("checkout.payment_method", string(req.PaymentMethod)))
	defer span.End()

	result, err := o.checkout(ctx, req)
	util.CheckoutLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	switch {
	case err == nil && result.Replayed:
		util.CheckoutsTotal.WithLabelValues("replayed").Inc()
	case err == nil:
		util.CheckoutsTotal.WithLabelValues("completed").Inc()
	case errors.Is(err, ErrPartialCheckout):
		util.CheckoutsTotal.WithLabelValues("partial").Inc()
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInsufficientTender), errors.Is(err, ErrNotOpen):
		util.CheckoutsTotal.WithLabelValues("rejected").Inc()
	default:
		util.CheckoutsTotal.WithLabelValues("failed").Inc()
	}
	return result, err
}

func (o *Orchestrator) checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	if req.IdempotencyKey == "" {
		return nil, validationErr("idempotency key is required")
	}
	if req.PerformedBy == "" {
		return nil, validationErr("cashier is required")
	}

	if o.cache != nil {
		var cached CheckoutResult
		found, err := o.cache.GetIdempotencyKey(ctx, resultCacheKey(req.IdempotencyKey), &cached)
		if err != nil {
			o.logger.Warn("Checkout result cache unavailable", zap.Error(err))
		} else if found {
			if !sameSale(req, cached.SessionID, cached.PaymentMethod, cached.Total) {
				return nil, keyReused(req.IdempotencyKey)
			}
			cached.Replayed = true
			clearCart(req.Cart)
			return &cached, nil
		}
	}

	if o.locker != nil {
		lockKey := "checkout:" + req.IdempotencyKey
		token, ok, err := o.locker.AcquireLock(ctx, lockKey, o.cfg.LockTTL)
		switch {
		case err != nil:
			o.logger.Warn("Checkout lock unavailable, continuing without it", zap.Error(err))
		case !ok:
			return nil, fmt.Errorf("%w: checkout %s is already in progress", ErrConflict, req.IdempotencyKey)
		default:
			defer func() {
				if err := o.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
					o.logger.Warn("Failed to release checkout lock", zap.Error(err))
				}
			}()
		}
	}

	intent, err := o.store.GetIntentByKey(ctx, req.IdempotencyKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		intent = nil
	case err != nil:
		return nil, storeErr("get checkout intent", err)
	}

	if intent != nil {
		if !sameSale(req, intent.SessionID, intent.PaymentMethod, intent.Total) {
			return nil, keyReused(req.IdempotencyKey)
		}
		if intent.Status == models.IntentStatusCompleted {
			result := resultFromIntent(intent)
			result.Replayed = true
			clearCart(req.Cart)
			return result, nil
		}
		order, err := o.findOrder(ctx, intent)
		if err != nil {
			return nil, err
		}
		if order != nil {
			o.logger.Info("Resuming checkout",
				zap.String("intent_id", intent.ID),
				zap.String("order_id", order.ID))
			result, err := o.finish(ctx, intent, order, req.DueDate, req.PaymentTerms)
			if err == nil {
				clearCart(req.Cart)
			}
			return result, err
		}
	}

	session, total, change, tendered, err := o.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	if intent == nil {
		intent, err = o.createIntent(ctx, req, session, total, change, tendered)
		if err != nil {
			return nil, err
		}
	} else {
		intent.Status = models.IntentStatusPending
		intent.LastError = ""
		if err := o.store.UpdateIntent(ctx, intent); err != nil {
			return nil, storeErr("update checkout intent", err)
		}
	}

	order := orderFromCart(req.Cart, session.StoreID, session.Currency)
	order.SessionID = session.ID
	order.Source = models.OrderSourcePOS
	order.Customer = req.Customer
	order.Status = models.OrderStatusDelivered
	order.PaymentStatus = models.PaymentStatusPaid
	order.FulfillmentStatus = models.FulfillmentStatusDelivered
	order.IdempotencyKey = req.IdempotencyKey
	order.CreatedAt = o.now()
	order.PaymentMethods = []models.OrderPayment{{
		ID:       newID(),
		Method:   req.PaymentMethod,
		Amount:   total,
		Status:   models.PaymentStatusPaid,
		Tendered: decimal.NewNullDecimal(tendered),
		Change:   decimal.NewNullDecimal(change),
	}}

	saved, created, err := o.store.CreateOrder(ctx, order)
	if err != nil {
		// The outcome is unknown on timeout; the reconciler looks the
		// order up by key before giving the intent up.
		intent.LastError = err.Error()
		intent.Attempts++
		o.saveIntent(ctx, intent)
		return nil, storeErr("create order", err)
	}
	if created {
		util.OrdersCreatedTotal.WithLabelValues(string(saved.Source)).Inc()
		publishOrderCreated(ctx, o.events, o.logger, saved, o.now())
	}

	o.logger.Info("Checkout order created",
		zap.String("intent_id", intent.ID),
		zap.String("order_id", saved.ID),
		zap.String("total", saved.TotalAmount.String()))

	result, err := o.finish(ctx, intent, saved, req.DueDate, req.PaymentTerms)
	if err == nil {
		clearCart(req.Cart)
	}
	return result, err
}

// validate checks everything that must hold before any write
func (o *Orchestrator) validate(ctx context.Context, req *CheckoutRequest) (*models.RegisterSession, decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	zero := decimal.Zero
	if req.Cart == nil || req.Cart.IsEmpty() {
		return nil, zero, zero, zero, validationErr("cart is empty")
	}
	if !req.PaymentMethod.Valid() {
		return nil, zero, zero, zero, validationErr("unknown payment method %q", req.PaymentMethod)
	}

	session, err := o.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, zero, zero, zero, storeErr("get session", err)
	}
	if !session.IsOpen() {
		return nil, zero, zero, zero, ErrNotOpen
	}

	total := req.Cart.Total()
	tendered := total
	change := decimal.Zero
	if req.PaymentMethod == models.PaymentMethodCash {
		if req.Tendered.LessThan(total) {
			return nil, zero, zero, zero, fmt.Errorf("%w: tendered %s, total %s", ErrInsufficientTender, req.Tendered, total)
		}
		tendered = req.Tendered
		change = req.Tendered.Sub(total)
	}
	return session, total, change, tendered, nil
}

func (o *Orchestrator) createIntent(ctx context.Context, req *CheckoutRequest, session *models.RegisterSession, total, change, tendered decimal.Decimal) (*models.CheckoutIntent, error) {
	intent := &models.CheckoutIntent{
		ID:               newID(),
		IdempotencyKey:   req.IdempotencyKey,
		SessionID:        session.ID,
		StoreID:          session.StoreID,
		Status:           models.IntentStatusPending,
		InvoiceRequested: req.GenerateInvoice,
		InvoiceState:     models.InvoiceStateNone,
		PaymentMethod:    req.PaymentMethod,
		Tendered:         tendered,
		Total:            total,
		Change:           change,
		Currency:         session.Currency,
		PerformedBy:      req.PerformedBy,
	}
	saved, _, err := o.store.CreateIntent(ctx, intent)
	if err != nil {
		return nil, storeErr("create checkout intent", err)
	}
	return saved, nil
}

// findOrder returns the order an intent produced, or nil if none exists yet
func (o *Orchestrator) findOrder(ctx context.Context, intent *models.CheckoutIntent) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	if intent.OrderID != nil {
		order, err = o.store.GetOrder(ctx, *intent.OrderID)
	} else {
		order, err = o.store.GetOrderByIdempotencyKey(ctx, intent.IdempotencyKey)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get checkout order", err)
	}
	return order, nil
}

// Resume drives a stalled intent to completion. An intent whose order was
// never created is marked failed.
func (o *Orchestrator) Resume(ctx context.Context, intent *models.CheckoutIntent) (*CheckoutResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()
	ctx, span := util.StartSpan(ctx, "Orchestrator.Resume", attribute.String("checkout.intent_id", intent.ID))
	defer span.End()

	if intent.Status == models.IntentStatusCompleted {
		return resultFromIntent(intent), nil
	}
	if intent.Status == models.IntentStatusFailed {
		return nil, fmt.Errorf("checkout intent %s has failed", intent.ID)
	}

	order, err := o.findOrder(ctx, intent)
	if err != nil {
		return nil, err
	}
	if order == nil {
		intent.Status = models.IntentStatusFailed
		intent.LastError = "order was never created"
		o.saveIntent(ctx, intent)
		return nil, fmt.Errorf("checkout intent %s: order %w", intent.ID, ErrNotFound)
	}
	return o.finish(ctx, intent, order, time.Time{}, "")
}

// finish runs the steps after the order exists. Each step is skipped when
// the intent already records its result.
func (o *Orchestrator) finish(ctx context.Context, intent *models.CheckoutIntent, order *models.Order, dueDate time.Time, paymentTerms string) (*CheckoutResult, error) {
	if intent.OrderID == nil || intent.Status == models.IntentStatusPending {
		intent.OrderID = &order.ID
		intent.Status = models.IntentStatusOrderCreated
		o.saveIntent(ctx, intent)
	}

	if intent.InvoiceRequested && intent.InvoiceID == nil && intent.InvoiceState != models.InvoiceStateQueued {
		o.invoiceStep(ctx, intent, order, dueDate, paymentTerms)
	}

	if intent.LedgerTransactionID == nil {
		txn, err := o.ledgerStep(ctx, intent, order)
		if err != nil {
			intent.LastError = err.Error()
			intent.Attempts++
			o.saveIntent(ctx, intent)

			partial := &PartialCheckoutError{
				IntentID: intent.ID,
				OrderID:  order.ID,
				Step:     stepLedger,
				Err:      err,
			}
			if intent.InvoiceID != nil {
				partial.InvoiceID = *intent.InvoiceID
			}
			o.logger.Error("Checkout incomplete, sale recorded without ledger entry",
				zap.String("intent_id", intent.ID),
				zap.String("order_id", order.ID),
				zap.Error(err))
			o.publishCheckout(ctx, models.EventTypeCheckoutIncomplete, intent, order, stepLedger, err.Error())
			return nil, partial
		}
		intent.LedgerTransactionID = &txn.ID
	}

	intent.Status = models.IntentStatusCompleted
	intent.LastError = ""
	o.saveIntent(ctx, intent)

	result := resultFromIntent(intent)
	if o.cache != nil {
		if err := o.cache.SetIdempotencyKey(context.WithoutCancel(ctx), resultCacheKey(intent.IdempotencyKey), result, o.cfg.ResultTTL); err != nil {
			o.logger.Warn("Failed to cache checkout result", zap.Error(err))
		}
	}

	o.logger.Info("Checkout completed",
		zap.String("intent_id", intent.ID),
		zap.String("order_id", order.ID),
		zap.String("total", intent.Total.String()),
		zap.String("change", intent.Change.String()))
	o.publishCheckout(ctx, models.EventTypeCheckoutCompleted, intent, order, "", "")
	return result, nil
}

// invoiceStep is best effort: a failure queues the invoice for the retry
// worker and the sale carries on
func (o *Orchestrator) invoiceStep(ctx context.Context, intent *models.CheckoutIntent, order *models.Order, dueDate time.Time, paymentTerms string) {
	inv, err := o.invoices.CreateInvoiceFromOrder(ctx, &CreateInvoiceRequest{
		OrderID:      order.ID,
		StoreID:      order.StoreID,
		DueDate:      dueDate,
		PaymentTerms: paymentTerms,
		ActorID:      intent.PerformedBy,
	})
	if err == nil {
		intent.InvoiceID = &inv.ID
		intent.InvoiceState = models.InvoiceStateIssued
		o.saveIntent(ctx, intent)
		return
	}

	o.logger.Warn("Invoice step failed, queueing retry",
		zap.String("intent_id", intent.ID),
		zap.String("order_id", order.ID),
		zap.Error(err))

	event := &models.InvoiceRequestedEvent{
		BaseEvent:    newEvent(models.EventTypeInvoiceRequested, o.now()),
		OrderID:      order.ID,
		StoreID:      order.StoreID,
		IntentID:     intent.ID,
		DueDate:      dueDate,
		PaymentTerms: paymentTerms,
		ActorID:      intent.PerformedBy,
		Attempt:      1,
	}
	if qerr := o.events.EnqueueInvoice(context.WithoutCancel(ctx), event); qerr != nil {
		// Left unqueued; the reconciler retries the invoice when it resumes
		// the intent.
		o.logger.Error("Failed to queue invoice retry", zap.String("order_id", order.ID), zap.Error(qerr))
		intent.LastError = err.Error()
		o.saveIntent(ctx, intent)
		return
	}
	util.InvoicesQueuedTotal.Inc()
	intent.InvoiceState = models.InvoiceStateQueued
	intent.LastError = err.Error()
	o.saveIntent(ctx, intent)
}

// ledgerStep writes the sale entry, retrying with linear backoff inside
// the checkout deadline. The entry is keyed by order id so a retry that
// raced a slow success returns the existing row.
func (o *Orchestrator) ledgerStep(ctx context.Context, intent *models.CheckoutIntent, order *models.Order) (*models.LedgerTransaction, error) {
	req := &RegisterTransactionRequest{
		SessionID:     intent.SessionID,
		StoreID:       order.StoreID,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		PaymentMethod: intent.PaymentMethod,
		OrderID:       order.ID,
		PerformedBy:   intent.PerformedBy,
	}
	if intent.InvoiceID != nil {
		req.InvoiceID = *intent.InvoiceID
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.LedgerAttempts; attempt++ {
		txn, err := o.ledger.RecordSale(ctx, req)
		if err == nil {
			return txn, nil
		}
		lastErr = err
		if errors.Is(err, ErrValidation) || attempt == o.cfg.LedgerAttempts {
			break
		}

		util.LedgerRetriesTotal.Inc()
		o.logger.Warn("Ledger write failed, retrying",
			zap.String("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ledger write abandoned: %w", ctx.Err())
		case <-time.After(o.cfg.LedgerBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

// saveIntent persists intent progress. It survives the checkout deadline
// so a late step still records where it got to.
func (o *Orchestrator) saveIntent(ctx context.Context, intent *models.CheckoutIntent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.UpdateIntent(ctx, intent); err != nil {
		o.logger.Error("Failed to save checkout intent",
			zap.String("intent_id", intent.ID),
			zap.String("status", string(intent.Status)),
			zap.Error(err))
	}
}

func (o *Orchestrator) publishCheckout(ctx context.Context, eventType string, intent *models.CheckoutIntent, order *models.Order, step, reason string) {
	event := &models.CheckoutEvent{
		BaseEvent: newEvent(eventType, o.now()),
		IntentID:  intent.ID,
		SessionID: intent.SessionID,
		StoreID:   order.StoreID,
		OrderID:   order.ID,
		Total:     order.TotalAmount,
		Step:      step,
		Reason:    reason,
	}
	if intent.InvoiceID != nil {
		event.InvoiceID = *intent.InvoiceID
	}
	if err := o.events.PublishCheckout(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Error("Failed to publish checkout event", zap.String("type", eventType), zap.Error(err))
	}
}

func resultFromIntent(intent *models.CheckoutIntent) *CheckoutResult {
	result := &CheckoutResult{
		IntentID:      intent.ID,
		InvoiceQueued: intent.InvoiceState == models.InvoiceStateQueued,
		SessionID:     intent.SessionID,
		PaymentMethod: intent.PaymentMethod,
		Total:         intent.Total,
		Change:        intent.Change,
		Currency:      intent.Currency,
	}
	if intent.OrderID != nil {
		result.OrderID = *intent.OrderID
	}
	if intent.InvoiceID != nil {
		result.InvoiceID = *intent.InvoiceID
	}
	return result
}

// sameSale reports whether req describes the sale already recorded under
// its idempotency key
func sameSale(req *CheckoutRequest, sessionID string, method models.PaymentMethod, total decimal.Decimal) bool {
	if req.SessionID != sessionID || req.PaymentMethod != method {
		return false
	}
	return req.Cart != nil && req.Cart.Total().Equal(total)
}

func keyReused(key string) error {
	return fmt.Errorf("%w: idempotency key %s was used for a different sale", ErrConflict, key)
}

func clearCart(c *cart.Cart) {
	if c != nil {
		c.Clear()
	}
}
