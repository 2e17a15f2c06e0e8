package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTransitions(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending:           {OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
		OrderStatusProcessing:        {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
		OrderStatusShipped:           {OrderStatusDelivered, OrderStatusCancelled},
		OrderStatusDelivered:         {OrderStatusRefunded, OrderStatusPartiallyRefunded},
		OrderStatusPartiallyRefunded: {OrderStatusRefunded},
		OrderStatusCancelled:         {OrderStatusRefunded},
	}

	for _, from := range AllOrderStatuses() {
		for _, to := range AllOrderStatuses() {
			want := from == to || contains(allowed[from], to)
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, OrderStatusCancelled.CanTransitionTo(OrderStatusDelivered))
	assert.True(t, OrderStatusRefunded.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
}

func TestPaymentStatusTransitions(t *testing.T) {
	allowed := map[PaymentStatus][]PaymentStatus{
		PaymentStatusPending:       {PaymentStatusAuthorized, PaymentStatusPaid, PaymentStatusPartiallyPaid, PaymentStatusFailed, PaymentStatusCancelled},
		PaymentStatusAuthorized:    {PaymentStatusPaid, PaymentStatusPartiallyPaid, PaymentStatusFailed, PaymentStatusCancelled},
		PaymentStatusPartiallyPaid: {PaymentStatusPaid, PaymentStatusRefunded, PaymentStatusCancelled},
		PaymentStatusFailed:        {PaymentStatusPending, PaymentStatusPaid, PaymentStatusCancelled},
		PaymentStatusPaid:          {PaymentStatusRefunded},
	}

	for _, from := range AllPaymentStatuses() {
		for _, to := range AllPaymentStatuses() {
			want := from == to || contains(allowed[from], to)
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, PaymentStatusCancelled.Terminal())
	assert.True(t, PaymentStatusRefunded.Terminal())
}

func TestFulfillmentStatusTransitions(t *testing.T) {
	allowed := map[FulfillmentStatus][]FulfillmentStatus{
		FulfillmentStatusPending:    {FulfillmentStatusProcessing, FulfillmentStatusShipped, FulfillmentStatusDelivered, FulfillmentStatusCancelled},
		FulfillmentStatusProcessing: {FulfillmentStatusShipped, FulfillmentStatusDelivered, FulfillmentStatusCancelled},
		FulfillmentStatusShipped:    {FulfillmentStatusDelivered},
	}

	for _, from := range AllFulfillmentStatuses() {
		for _, to := range AllFulfillmentStatuses() {
			want := from == to || contains(allowed[from], to)
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestUnknownStatusesRejected(t *testing.T) {
	assert.False(t, OrderStatus("fulfilled").Valid())
	assert.False(t, OrderStatusPending.CanTransitionTo("fulfilled"))
	assert.False(t, OrderStatus("bogus").CanTransitionTo(OrderStatusPending))
	assert.False(t, PaymentStatus("").Valid())
	assert.False(t, FulfillmentStatus("fulfilled").Valid())
}
