package broker

import (
	"context"
	"testing"
	"time"

	"pos-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBusRoutesEvents(t *testing.T) {
	bus := NewLocalBus(8)
	publisher := NewEventPublisher(bus, bus)

	changed := make(chan [2]string, 4)
	invoices := make(chan *models.InvoiceRequestedEvent, 1)

	handler := NewEventHandler()
	handler.OnOrderChanged(func(ctx context.Context, storeID, orderID string) error {
		changed <- [2]string{storeID, orderID}
		return nil
	})
	handler.OnInvoiceRequested(func(ctx context.Context, e *models.InvoiceRequestedEvent) error {
		invoices <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.StartConsuming(ctx, handler.HandleMessage)

	require.NoError(t, publisher.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderStatusChanged},
		OrderID:   "o-1",
		StoreID:   "s-1",
	}))
	require.NoError(t, publisher.EnqueueInvoice(ctx, &models.InvoiceRequestedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeInvoiceRequested},
		OrderID:   "o-1",
		Attempt:   2,
	}))
	require.NoError(t, publisher.PublishSessionEvent(ctx, &models.SessionEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeSessionOpened},
	}))

	select {
	case got := <-changed:
		assert.Equal(t, [2]string{"s-1", "o-1"}, got)
	case <-time.After(time.Second):
		t.Fatal("order change not delivered")
	}

	select {
	case got := <-invoices:
		assert.Equal(t, 2, got.Attempt)
	case <-time.After(time.Second):
		t.Fatal("invoice request not delivered")
	}
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	handler := NewEventHandler()
	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
