package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pos-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bankTransferOrder(t *testing.T, f *fixture) (*models.Order, string) {
	t.Helper()
	order := createWebOrder(t, f, PaymentInput{
		Method:     models.PaymentMethodBankTransfer,
		Amount:     dec("600"),
		VoucherURL: "https://files.example.com/vouchers/1.jpg",
	})
	require.Len(t, order.PaymentMethods, 1)
	require.NotNil(t, order.PaymentMethods[0].VoucherStatus)
	require.Equal(t, models.VoucherStatusPending, *order.PaymentMethods[0].VoucherStatus)
	return order, order.PaymentMethods[0].ID
}

func TestApproveVoucher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, paymentID := bankTransferOrder(t, f)

	payment, err := f.vouchers.ApproveVoucher(ctx, &ReviewRequest{
		OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1", Notes: "matches statement",
	})
	require.NoError(t, err)
	assert.Equal(t, models.VoucherStatusApproved, *payment.VoucherStatus)
	assert.Equal(t, models.PaymentStatusPaid, payment.Status)
	assert.Equal(t, "admin-1", payment.ReviewedBy)

	stored, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, order.Version+1, stored.Version)
	assert.Equal(t, 1, f.events.count(models.EventTypeVoucherReviewed))
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderStatusChanged))

	_, err = f.vouchers.ApproveVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-2"})
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	_, err = f.vouchers.RejectVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-2"})
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
}

func TestApproveVoucherOverridesPaymentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, paymentID := bankTransferOrder(t, f)

	// cancelled has no outgoing edges; approval still lands
	_, err := f.status.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusCancelled)
	require.NoError(t, err)

	_, err = f.vouchers.ApproveVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1"})
	require.NoError(t, err)

	stored, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
}

func TestRejectVoucherLeavesPaymentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, paymentID := bankTransferOrder(t, f)
	before := order.PaymentStatus

	payment, err := f.vouchers.RejectVoucher(ctx, &ReviewRequest{
		OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1", Notes: "unreadable",
	})
	require.NoError(t, err)
	assert.Equal(t, models.VoucherStatusRejected, *payment.VoucherStatus)
	assert.Equal(t, "unreadable", payment.VoucherNotes)

	stored, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, before, stored.PaymentStatus)
	assert.Equal(t, order.Version+1, stored.Version, "the review is visible in the order version")
	assert.Zero(t, f.events.count(models.EventTypeOrderStatusChanged))

	_, err = f.vouchers.ApproveVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1"})
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
}

func TestVoucherIsFinalOnceReviewed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, paymentID := bankTransferOrder(t, f)

	_, err := f.vouchers.SubmitVoucher(ctx, order.ID, paymentID, "https://files.example.com/vouchers/2.jpg")
	assert.ErrorIs(t, err, ErrConflict, "a pending voucher cannot be replaced")

	_, err = f.vouchers.RejectVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1"})
	require.NoError(t, err)

	_, err = f.vouchers.SubmitVoucher(ctx, order.ID, paymentID, "https://files.example.com/vouchers/2.jpg")
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	_, err = f.vouchers.ApproveVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1"})
	assert.ErrorIs(t, err, ErrAlreadyReviewed)

	stored, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	payment, ok := stored.Payment(paymentID)
	require.True(t, ok)
	assert.Equal(t, models.VoucherStatusRejected, *payment.VoucherStatus)
	assert.Equal(t, "https://files.example.com/vouchers/1.jpg", payment.VoucherURL)
}

func TestSubmitVoucherOnFreshPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := createWebOrder(t, f, PaymentInput{Method: models.PaymentMethodBankTransfer, Amount: dec("600")})
	paymentID := order.PaymentMethods[0].ID
	require.Nil(t, order.PaymentMethods[0].VoucherStatus)

	payment, err := f.vouchers.SubmitVoucher(ctx, order.ID, paymentID, " https://files.example.com/vouchers/3.jpg ")
	require.NoError(t, err)
	assert.Equal(t, models.VoucherStatusPending, *payment.VoucherStatus)
	assert.Equal(t, "https://files.example.com/vouchers/3.jpg", payment.VoucherURL)

	stored, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Version+1, stored.Version)

	_, err = f.vouchers.SubmitVoucher(ctx, order.ID, paymentID, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApproveVoucherFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, paymentID := bankTransferOrder(t, f)
	f.store.reviewErr = errors.New("db down")

	_, err := f.vouchers.ApproveVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1"})
	require.ErrorIs(t, err, ErrPersistence)

	stored, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	assert.Equal(t, order.Version, stored.Version)
	payment, ok := stored.Payment(paymentID)
	require.True(t, ok)
	assert.Equal(t, models.VoucherStatusPending, *payment.VoucherStatus)
	assert.Zero(t, f.events.count(models.EventTypeVoucherReviewed))

	// the reviewer's retry lands both writes together
	f.store.reviewErr = nil
	_, err = f.vouchers.ApproveVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1"})
	require.NoError(t, err)

	stored, err = f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	payment, ok = stored.Payment(paymentID)
	require.True(t, ok)
	assert.Equal(t, models.VoucherStatusApproved, *payment.VoucherStatus)
	assert.Equal(t, models.PaymentStatusPaid, payment.Status)
}

func TestVoucherNotReviewable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := createWebOrder(t, f, PaymentInput{Method: models.PaymentMethodCard, Amount: dec("600")})
	paymentID := order.PaymentMethods[0].ID

	_, err := f.vouchers.ApproveVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: paymentID, Reviewer: "admin-1"})
	assert.ErrorIs(t, err, ErrNotReviewable)

	_, err = f.vouchers.SubmitVoucher(ctx, order.ID, paymentID, "https://files.example.com/v.jpg")
	assert.ErrorIs(t, err, ErrNotReviewable)

	_, err = f.vouchers.ApproveVoucher(ctx, &ReviewRequest{OrderID: order.ID, PaymentID: "missing", Reviewer: "admin-1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvoiceFromOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := createWebOrder(t, f)

	first, err := f.invoices.CreateInvoiceFromOrder(ctx, &CreateInvoiceRequest{
		OrderID: order.ID, ActorID: "admin-1", DueDate: time.Now().UTC().Add(30 * 24 * time.Hour), PaymentTerms: "net 30",
	})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusIssued, first.Status)
	assert.True(t, first.TotalAmount.Equal(order.TotalAmount))
	assert.True(t, first.Balance().Equal(order.TotalAmount))
	require.Len(t, first.Items, 1)

	second, err := f.invoices.CreateInvoiceFromOrder(ctx, &CreateInvoiceRequest{OrderID: order.ID, ActorID: "admin-2"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, 1, f.events.count(models.EventTypeInvoiceIssued))

	paid, err := f.invoices.ApplyPayment(ctx, first.ID, dec("600"))
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, paid.Status)
	assert.True(t, paid.Balance().IsZero())
}

func TestInvoiceNumbersAreSequentialPerStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	year := time.Now().UTC().Format("2006")

	for i, want := range []string{"0001", "0002", "0003"} {
		order := createWebOrder(t, f)
		inv, err := f.invoices.CreateInvoiceFromOrder(ctx, &CreateInvoiceRequest{OrderID: order.ID, ActorID: "admin-1"})
		require.NoError(t, err, i)
		assert.Equal(t, "INV-"+year+"-"+want, inv.Number)
	}

	_, err := f.invoices.CreateInvoiceFromOrder(ctx, &CreateInvoiceRequest{OrderID: "missing", ActorID: "admin-1"})
	assert.ErrorIs(t, err, ErrNotFound)
}
