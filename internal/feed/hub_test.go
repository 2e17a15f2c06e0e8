package feed

import (
	"context"
	"testing"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/pagination"
	"pos-service/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrder(t *testing.T, s *memory.Store, id, storeID string, total int64) {
	t.Helper()
	_, _, err := s.CreateOrder(context.Background(), &models.Order{
		ID:                id,
		StoreID:           storeID,
		Source:            models.OrderSourcePOS,
		TotalAmount:       decimal.NewFromInt(total),
		Currency:          "DOP",
		Status:            models.OrderStatusPending,
		PaymentStatus:     models.PaymentStatusPending,
		FulfillmentStatus: models.FulfillmentStatusPending,
	})
	require.NoError(t, err)
}

func next(t *testing.T, sub *Subscription) models.OrderPage {
	t.Helper()
	select {
	case page, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return page
	case <-time.After(time.Second):
		t.Fatal("no page delivered")
	}
	return models.OrderPage{}
}

func TestSubscribeDeliversFirstPage(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, "o1", "store-1", 100)
	seedOrder(t, s, "o2", "store-2", 200)
	hub := NewHub(s, 4)

	sub, err := hub.Subscribe(context.Background(), models.OrderQuery{StoreID: "store-1"})
	require.NoError(t, err)
	defer sub.Close()

	page := next(t, sub)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, "o1", page.Orders[0].ID)
	assert.Equal(t, 1, hub.Len())
}

func TestNotifyPushesFreshPageAfterStatusChange(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seedOrder(t, s, "o1", "store-1", 100)
	hub := NewHub(s, 4)

	sub, err := hub.Subscribe(ctx, models.OrderQuery{
		StoreID:  "store-1",
		Statuses: []models.OrderStatus{models.OrderStatusPending},
	})
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, next(t, sub).Orders, 1)

	_, _, err = s.UpdateOrderField(ctx, "o1", models.AxisOrder, "pending", "processing", 0)
	require.NoError(t, err)
	require.NoError(t, hub.Notify(ctx, "store-1", "o1"))

	page := next(t, sub)
	assert.Empty(t, page.Orders, "order no longer matches the filter")
}

func TestNotifyIgnoresOtherStores(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	hub := NewHub(s, 4)

	scoped, err := hub.Subscribe(ctx, models.OrderQuery{StoreID: "store-1"})
	require.NoError(t, err)
	defer scoped.Close()
	all, err := hub.Subscribe(ctx, models.OrderQuery{})
	require.NoError(t, err)
	defer all.Close()
	next(t, scoped)
	next(t, all)

	seedOrder(t, s, "o9", "store-2", 50)
	require.NoError(t, hub.Notify(ctx, "store-2", "o9"))

	page := next(t, all)
	assert.Len(t, page.Orders, 1)
	select {
	case <-scoped.Updates():
		t.Fatal("store-1 subscriber notified of a store-2 order")
	default:
	}
}

func TestRefineChangesPage(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		seedOrder(t, s, id, "store-1", int64(100*(i+1)))
	}
	hub := NewHub(s, 4)

	sub, err := hub.Subscribe(ctx, models.OrderQuery{
		StoreID: "store-1",
		SortBy:  models.SortByTotalAmount,
		Params:  pagination.Params{Page: 1, PerPage: 2},
	})
	require.NoError(t, err)
	defer sub.Close()
	first := next(t, sub)
	require.Len(t, first.Orders, 2)
	assert.Equal(t, "a", first.Orders[0].ID)
	assert.True(t, first.Pagination.HasNext)

	q := sub.Query()
	q.Page = 2
	require.NoError(t, hub.Refine(ctx, sub, q))
	second := next(t, sub)
	require.Len(t, second.Orders, 1)
	assert.Equal(t, "c", second.Orders[0].ID)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	hub := NewHub(s, 1)

	sub, err := hub.Subscribe(ctx, models.OrderQuery{})
	require.NoError(t, err)

	// first page still unread; the next push overflows the buffer
	require.NoError(t, hub.Notify(ctx, "store-1", "x"))
	assert.Equal(t, 0, hub.Len())

	_, ok := <-sub.Updates()
	assert.True(t, ok, "buffered page is still readable")
	_, ok = <-sub.Updates()
	assert.False(t, ok, "channel closed after drop")

	sub.Close()
}

func TestCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(memory.New(), 2)
	sub, err := hub.Subscribe(context.Background(), models.OrderQuery{})
	require.NoError(t, err)
	<-sub.Updates()

	hub.Close()
	_, ok := <-sub.Updates()
	assert.False(t, ok)

	_, err = hub.Subscribe(context.Background(), models.OrderQuery{})
	assert.ErrorIs(t, err, ErrClosed)
}
