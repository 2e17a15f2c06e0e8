package store

import (
	"context"
	"os"
	"testing"
	"time"

	"pos-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-2026-0001", FormatInvoiceNumber(2026, 1))
	assert.Equal(t, "INV-2026-12345", FormatInvoiceNumber(2026, 12345))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_now`, escapeLike("50% off_now"))
}

func TestOneOpenSessionPerRegister(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	storeID, registerID := uuid.NewString(), uuid.NewString()

	first := &models.RegisterSession{
		ID: uuid.NewString(), StoreID: storeID, RegisterID: registerID, CashierID: "c-1",
		OpeningBalance: decimal.NewFromInt(500), Currency: "DOP", OpenedAt: time.Now(),
	}
	require.NoError(t, store.CreateSession(ctx, first))

	second := *first
	second.ID = uuid.NewString()
	assert.ErrorIs(t, store.CreateSession(ctx, &second), ErrDuplicate)

	closed, err := store.CloseSession(ctx, first.ID, "", time.Now())
	require.NoError(t, err)
	assert.True(t, closed.ExpectedCash.Valid)
	assert.True(t, closed.ExpectedCash.Decimal.Equal(decimal.NewFromInt(500)))

	_, err = store.CloseSession(ctx, first.ID, "", time.Now())
	assert.ErrorIs(t, err, ErrStale)
}

func TestCreateOrderIdempotency(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := "idempotent-" + uuid.NewString()

	order := &models.Order{
		ID: uuid.NewString(), StoreID: "s-1", Source: models.OrderSourcePOS,
		Items: []models.OrderItem{{
			ID: uuid.NewString(), ProductID: "p-1", SKU: "TSHIRT-M-BLK", Name: "T-Shirt",
			UnitPrice: decimal.NewFromInt(350), Quantity: 2, LineTotal: decimal.NewFromInt(700),
		}},
		Subtotal: decimal.NewFromInt(700), TotalAmount: decimal.NewFromInt(700), Currency: "DOP",
		Status: models.OrderStatusDelivered, PaymentStatus: models.PaymentStatusPaid,
		FulfillmentStatus: models.FulfillmentStatusDelivered, IdempotencyKey: key, CreatedAt: time.Now(),
	}

	created, ok, err := store.CreateOrder(ctx, order)
	require.NoError(t, err)
	assert.True(t, ok)

	retry := *order
	retry.ID = uuid.NewString()
	again, ok, err := store.CreateOrder(ctx, &retry)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, created.ID, again.ID)
	require.Len(t, again.Items, 1)
	assert.Equal(t, "TSHIRT-M-BLK", again.Items[0].SKU)

	_, _, err = store.UpdateOrderField(ctx, created.ID, models.AxisOrder, "pending", "shipped", 0)
	assert.ErrorIs(t, err, ErrStale)
	version, _, err := store.UpdateOrderField(ctx, created.ID, models.AxisOrder, "delivered", "refunded", created.Version)
	require.NoError(t, err)
	assert.Equal(t, created.Version+1, version)
}

func TestVoucherReviewIsOneShot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	paymentID := uuid.NewString()

	order := &models.Order{
		ID: uuid.NewString(), StoreID: "s-1", Source: models.OrderSourceWeb,
		Subtotal: decimal.NewFromInt(600), TotalAmount: decimal.NewFromInt(600), Currency: "DOP",
		Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusPending,
		FulfillmentStatus: models.FulfillmentStatusPending, CreatedAt: time.Now(),
		PaymentMethods: []models.OrderPayment{{
			ID: paymentID, Method: models.PaymentMethodBankTransfer,
			Amount: decimal.NewFromInt(600), Status: models.PaymentStatusPending,
		}},
	}
	_, _, err := store.CreateOrder(ctx, order)
	require.NoError(t, err)

	_, err = store.SubmitVoucher(ctx, order.ID, paymentID, "https://files.example.com/v.jpg")
	require.NoError(t, err)

	review, err := store.ReviewVoucher(ctx, order.ID, paymentID, models.VoucherStatusRejected, "admin-1", "blurry", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, review.PaymentStatus)
	assert.Equal(t, int64(3), review.Version)

	_, err = store.SubmitVoucher(ctx, order.ID, paymentID, "https://files.example.com/v2.jpg")
	assert.ErrorIs(t, err, ErrStale)
	_, err = store.ReviewVoucher(ctx, order.ID, paymentID, models.VoucherStatusApproved, "admin-1", "", time.Now())
	assert.ErrorIs(t, err, ErrStale)
	_, err = store.ReviewVoucher(ctx, order.ID, uuid.NewString(), models.VoucherStatusApproved, "admin-1", "", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	assert.Equal(t, int64(3), stored.Version)
}
