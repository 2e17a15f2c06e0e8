package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"pos-service/internal/broker"
	"pos-service/internal/feed"
	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// Source delivers messages to a handler until ctx is cancelled. Both the
// Kafka consumer and the local bus implement it.
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// FeedWorker turns order events into live feed refreshes
type FeedWorker struct {
	source       Source
	eventHandler *broker.EventHandler
}

// NewFeedWorker creates a new feed worker
func NewFeedWorker(source Source, hub *feed.Hub) *FeedWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderChanged(hub.Notify)

	return &FeedWorker{
		source:       source,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *FeedWorker) Start(ctx context.Context) error {
	log.Println("Starting feed worker...")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FeedWorker) Stop() error {
	log.Println("Stopping feed worker...")
	return w.source.Close()
}

// InvoiceIssuer creates the invoice of an order
type InvoiceIssuer interface {
	CreateInvoiceFromOrder(ctx context.Context, req *service.CreateInvoiceRequest) (*models.Invoice, error)
}

// InvoiceWorker retries invoices that could not be issued during checkout
type InvoiceWorker struct {
	source       Source
	eventHandler *broker.EventHandler
	invoices     InvoiceIssuer
	intents      service.IntentStore
	queue        service.EventPublisher
	maxAttempts  int
	backoff      time.Duration
	logger       *zap.Logger
}

// NewInvoiceWorker creates a new invoice worker. A request that still fails
// after maxAttempts is logged and dropped.
func NewInvoiceWorker(source Source, invoices InvoiceIssuer, intents service.IntentStore, queue service.EventPublisher, maxAttempts int, backoff time.Duration) *InvoiceWorker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	w := &InvoiceWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		invoices:     invoices,
		intents:      intents,
		queue:        queue,
		maxAttempts:  maxAttempts,
		backoff:      backoff,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnInvoiceRequested(w.HandleInvoiceRequested)
	return w
}

// Start starts the invoice worker
func (w *InvoiceWorker) Start(ctx context.Context) error {
	log.Println("Starting invoice worker...")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the invoice worker
func (w *InvoiceWorker) Stop() error {
	log.Println("Stopping invoice worker...")
	return w.source.Close()
}

// HandleInvoiceRequested issues one deferred invoice, requeueing it with
// a higher attempt number on a transient failure
func (w *InvoiceWorker) HandleInvoiceRequested(ctx context.Context, event *models.InvoiceRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "InvoiceWorker.HandleInvoiceRequested")
	defer span.End()

	inv, err := w.invoices.CreateInvoiceFromOrder(ctx, &service.CreateInvoiceRequest{
		OrderID:      event.OrderID,
		StoreID:      event.StoreID,
		DueDate:      event.DueDate,
		PaymentTerms: event.PaymentTerms,
		ActorID:      event.ActorID,
	})
	if err == nil {
		w.logger.Info("Deferred invoice issued",
			zap.String("order_id", event.OrderID),
			zap.String("invoice_id", inv.ID),
			zap.Int("attempt", event.Attempt))
		w.markIssued(ctx, event.IntentID, inv.ID)
		return nil
	}

	if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrValidation) {
		w.logger.Error("Dropping invoice request that can never succeed",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		return nil
	}
	if event.Attempt >= w.maxAttempts {
		w.logger.Error("Giving up on deferred invoice",
			zap.String("order_id", event.OrderID),
			zap.Int("attempts", event.Attempt),
			zap.Error(err))
		return nil
	}

	w.logger.Warn("Deferred invoice failed, requeueing",
		zap.String("order_id", event.OrderID),
		zap.Int("attempt", event.Attempt),
		zap.Error(err))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.backoff * time.Duration(event.Attempt)):
	}

	event.Attempt++
	event.Timestamp = time.Now().UTC()
	util.InvoicesQueuedTotal.Inc()
	return w.queue.EnqueueInvoice(ctx, event)
}

func (w *InvoiceWorker) markIssued(ctx context.Context, intentID, invoiceID string) {
	if intentID == "" || w.intents == nil {
		return
	}
	intent, err := w.intents.GetIntent(ctx, intentID)
	if err != nil {
		w.logger.Warn("Checkout intent not found for invoice", zap.String("intent_id", intentID), zap.Error(err))
		return
	}
	intent.InvoiceID = &invoiceID
	intent.InvoiceState = models.InvoiceStateIssued
	if err := w.intents.UpdateIntent(ctx, intent); err != nil {
		w.logger.Error("Failed to record invoice on checkout intent", zap.String("intent_id", intentID), zap.Error(err))
	}
}

// Resumer drives a stalled checkout intent to completion
type Resumer interface {
	Resume(ctx context.Context, intent *models.CheckoutIntent) (*service.CheckoutResult, error)
}

// Reconciler periodically completes checkout intents left mid-saga by a
// crash, a timeout or a failed ledger write
type Reconciler struct {
	intents  service.IntentStore
	checkout Resumer
	interval time.Duration
	grace    time.Duration
	batch    int
	logger   *zap.Logger
	now      func() time.Time
}

// NewReconciler creates a reconciler. Intents untouched for less than
// grace are left alone so in-flight checkouts are not raced.
func NewReconciler(intents service.IntentStore, checkout Resumer, interval, grace time.Duration) *Reconciler {
	return &Reconciler{
		intents:  intents,
		checkout: checkout,
		interval: interval,
		grace:    grace,
		batch:    50,
		logger:   util.GetLogger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a pass every interval until ctx is cancelled
func (r *Reconciler) Start(ctx context.Context) error {
	log.Println("Starting checkout reconciler...")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping checkout reconciler...")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("Reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce resumes every stale intent and returns how many completed
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.RunOnce")
	defer span.End()

	intents, err := r.intents.ListStaleIntents(ctx, r.now().Add(-r.grace), r.batch)
	if err != nil {
		return 0, err
	}

	completed := 0
	for i := range intents {
		intent := &intents[i]
		_, err := r.checkout.Resume(ctx, intent)
		switch {
		case err == nil:
			completed++
			util.IntentsReconciledTotal.WithLabelValues("completed").Inc()
			r.logger.Info("Checkout intent reconciled", zap.String("intent_id", intent.ID))
		case errors.Is(err, service.ErrPartialCheckout):
			util.IntentsReconciledTotal.WithLabelValues("partial").Inc()
			r.logger.Warn("Checkout intent still incomplete", zap.String("intent_id", intent.ID), zap.Error(err))
		default:
			util.IntentsReconciledTotal.WithLabelValues("failed").Inc()
			r.logger.Warn("Checkout intent could not be resumed", zap.String("intent_id", intent.ID), zap.Error(err))
		}
	}
	return completed, nil
}
