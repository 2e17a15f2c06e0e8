package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// StatusOption tunes a single status update
type StatusOption func(*statusOptions)

type statusOptions struct {
	expectedVersion int64
	override        bool
	actor           string
}

// WithExpectedVersion rejects the update with ErrConflict unless the order
// is still at version v
func WithExpectedVersion(v int64) StatusOption {
	return func(o *statusOptions) { o.expectedVersion = v }
}

// WithOverride allows an edge the transition table forbids
func WithOverride() StatusOption {
	return func(o *statusOptions) { o.override = true }
}

// WithActor records who made the change in logs
func WithActor(id string) StatusOption {
	return func(o *statusOptions) { o.actor = id }
}

type axisRules struct {
	valid func(s string) bool
	can   func(from, to string) bool
	get   func(o *models.Order) string
	set   func(o *models.Order, s string)
}

var statusAxes = map[models.StatusAxis]axisRules{
	models.AxisOrder: {
		valid: func(s string) bool { return models.OrderStatus(s).Valid() },
		can:   func(from, to string) bool { return models.OrderStatus(from).CanTransitionTo(models.OrderStatus(to)) },
		get:   func(o *models.Order) string { return string(o.Status) },
		set:   func(o *models.Order, s string) { o.Status = models.OrderStatus(s) },
	},
	models.AxisPayment: {
		valid: func(s string) bool { return models.PaymentStatus(s).Valid() },
		can:   func(from, to string) bool { return models.PaymentStatus(from).CanTransitionTo(models.PaymentStatus(to)) },
		get:   func(o *models.Order) string { return string(o.PaymentStatus) },
		set:   func(o *models.Order, s string) { o.PaymentStatus = models.PaymentStatus(s) },
	},
	models.AxisFulfillment: {
		valid: func(s string) bool { return models.FulfillmentStatus(s).Valid() },
		can: func(from, to string) bool {
			return models.FulfillmentStatus(from).CanTransitionTo(models.FulfillmentStatus(to))
		},
		get: func(o *models.Order) string { return string(o.FulfillmentStatus) },
		set: func(o *models.Order, s string) { o.FulfillmentStatus = models.FulfillmentStatus(s) },
	},
}

// StatusEngine applies validated updates to the three order status axes.
// Each update writes one field plus version and updatedAt; totals are
// never touched.
type StatusEngine struct {
	store  OrderStore
	events EventPublisher
	logger *zap.Logger
}

// NewStatusEngine creates a new status engine
func NewStatusEngine(store OrderStore, events EventPublisher) *StatusEngine {
	return &StatusEngine{store: store, events: events, logger: util.GetLogger()}
}

// UpdateStatus moves the commercial status of an order
func (e *StatusEngine) UpdateStatus(ctx context.Context, orderID string, to models.OrderStatus, opts ...StatusOption) (*models.Order, error) {
	return e.update(ctx, orderID, models.AxisOrder, string(to), opts)
}

// UpdatePaymentStatus moves the payment status of an order
func (e *StatusEngine) UpdatePaymentStatus(ctx context.Context, orderID string, to models.PaymentStatus, opts ...StatusOption) (*models.Order, error) {
	return e.update(ctx, orderID, models.AxisPayment, string(to), opts)
}

// UpdateFulfillmentStatus moves the fulfillment status of an order
func (e *StatusEngine) UpdateFulfillmentStatus(ctx context.Context, orderID string, to models.FulfillmentStatus, opts ...StatusOption) (*models.Order, error) {
	return e.update(ctx, orderID, models.AxisFulfillment, string(to), opts)
}

// UpdateAxis dispatches on a named axis, used by the HTTP layer
func (e *StatusEngine) UpdateAxis(ctx context.Context, orderID string, axis models.StatusAxis, to string, opts ...StatusOption) (*models.Order, error) {
	if _, ok := statusAxes[axis]; !ok {
		return nil, validationErr("unknown status axis %q", axis)
	}
	return e.update(ctx, orderID, axis, to, opts)
}

func (e *StatusEngine) update(ctx context.Context, orderID string, axis models.StatusAxis, to string, opts []StatusOption) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "StatusEngine.Update")
	defer span.End()

	var o statusOptions
	for _, opt := range opts {
		opt(&o)
	}
	rules := statusAxes[axis]

	if !rules.valid(to) {
		util.StatusUpdatesTotal.WithLabelValues(string(axis), "invalid").Inc()
		return nil, validationErr("unknown %s %q", axis, to)
	}

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr("get order", err)
	}
	if o.expectedVersion != 0 && order.Version != o.expectedVersion {
		util.StatusUpdatesTotal.WithLabelValues(string(axis), "conflict").Inc()
		return nil, fmt.Errorf("%w: order %s is at version %d, not %d", ErrConflict, orderID, order.Version, o.expectedVersion)
	}

	from := rules.get(order)
	if from == to {
		return order, nil
	}

	if !rules.can(from, to) {
		if !o.override {
			util.StatusUpdatesTotal.WithLabelValues(string(axis), "rejected").Inc()
			return nil, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, axis, from, to)
		}
		e.logger.Warn("Status transition overridden",
			zap.String("order_id", orderID),
			zap.String("axis", string(axis)),
			zap.String("from", from),
			zap.String("to", to),
			zap.String("actor", o.actor))
	}

	version, updatedAt, err := e.store.UpdateOrderField(ctx, orderID, axis, from, to, o.expectedVersion)
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			util.StatusUpdatesTotal.WithLabelValues(string(axis), "conflict").Inc()
			return nil, fmt.Errorf("%w: %s of order %s changed concurrently", ErrConflict, axis, orderID)
		}
		return nil, storeErr("update order status", err)
	}

	rules.set(order, to)
	order.Version = version
	order.UpdatedAt = updatedAt

	util.StatusUpdatesTotal.WithLabelValues(string(axis), "applied").Inc()
	e.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("axis", string(axis)),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int64("version", version),
		zap.String("actor", o.actor))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: newEvent(models.EventTypeOrderStatusChanged, time.Now().UTC()),
		OrderID:   orderID,
		StoreID:   order.StoreID,
		Axis:      axis,
		From:      from,
		To:        to,
		Version:   version,
		Override:  o.override && !rules.can(from, to),
	}
	if err := e.events.PublishOrderStatusChanged(ctx, event); err != nil {
		e.logger.Error("Failed to publish OrderStatusChanged event",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
	return order, nil
}
