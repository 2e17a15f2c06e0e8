package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// VoucherService reviews bank-transfer proofs of payment
type VoucherService struct {
	orders OrderStore
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewVoucherService creates a new voucher service
func NewVoucherService(orders OrderStore, events EventPublisher) *VoucherService {
	return &VoucherService{
		orders: orders,
		events: events,
		logger: util.GetLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ReviewRequest carries the reviewer's decision notes
type ReviewRequest struct {
	OrderID   string `json:"-"`
	PaymentID string `json:"-"`
	Reviewer  string `json:"-"`
	Notes     string `json:"notes"`
}

// ApproveVoucher marks the voucher approved, the payment paid and moves
// the order's payment status to paid regardless of its current value.
// All three land in one store write.
func (s *VoucherService) ApproveVoucher(ctx context.Context, req *ReviewRequest) (*models.OrderPayment, error) {
	return s.review(ctx, req, models.VoucherStatusApproved)
}

// RejectVoucher marks the voucher rejected; payment status is untouched
func (s *VoucherService) RejectVoucher(ctx context.Context, req *ReviewRequest) (*models.OrderPayment, error) {
	return s.review(ctx, req, models.VoucherStatusRejected)
}

func (s *VoucherService) review(ctx context.Context, req *ReviewRequest, decision models.VoucherStatus) (*models.OrderPayment, error) {
	ctx, span := util.StartSpan(ctx, "VoucherService.Review")
	defer span.End()

	if req.Reviewer == "" {
		return nil, validationErr("reviewer is required")
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, storeErr("get order", err)
	}
	payment, ok := order.Payment(req.PaymentID)
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", req.PaymentID, ErrNotFound)
	}
	if payment.Method != models.PaymentMethodBankTransfer || payment.VoucherURL == "" || payment.VoucherStatus == nil {
		return nil, ErrNotReviewable
	}

	review, err := s.orders.ReviewVoucher(ctx, req.OrderID, req.PaymentID, decision, req.Reviewer, req.Notes, s.now())
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, ErrAlreadyReviewed
		}
		return nil, storeErr("review voucher", err)
	}

	util.VoucherReviewsTotal.WithLabelValues(string(decision)).Inc()
	s.logger.Info("Voucher reviewed",
		zap.String("order_id", req.OrderID),
		zap.String("payment_id", req.PaymentID),
		zap.String("decision", string(decision)),
		zap.String("reviewer", req.Reviewer),
		zap.Int64("version", review.Version))

	event := &models.VoucherReviewedEvent{
		BaseEvent:  newEvent(models.EventTypeVoucherReviewed, s.now()),
		OrderID:    order.ID,
		StoreID:    order.StoreID,
		PaymentID:  req.PaymentID,
		Decision:   decision,
		ReviewedBy: req.Reviewer,
	}
	if err := s.events.PublishVoucherReviewed(ctx, event); err != nil {
		s.logger.Error("Failed to publish VoucherReviewed event", zap.Error(err))
	}

	if review.PaymentStatus != review.PreviousPaymentStatus {
		s.paymentStatusChanged(ctx, order.StoreID, req, review)
	}
	return &review.Payment, nil
}

// paymentStatusChanged reports the payment axis move made by an approval
func (s *VoucherService) paymentStatusChanged(ctx context.Context, storeID string, req *ReviewRequest, review *models.VoucherReview) {
	from, to := review.PreviousPaymentStatus, review.PaymentStatus
	override := !from.CanTransitionTo(to)
	if override {
		s.logger.Warn("Status transition overridden",
			zap.String("order_id", req.OrderID),
			zap.String("axis", string(models.AxisPayment)),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("actor", req.Reviewer))
	}
	util.StatusUpdatesTotal.WithLabelValues(string(models.AxisPayment), "applied").Inc()

	event := &models.OrderStatusChangedEvent{
		BaseEvent: newEvent(models.EventTypeOrderStatusChanged, s.now()),
		OrderID:   req.OrderID,
		StoreID:   storeID,
		Axis:      models.AxisPayment,
		From:      string(from),
		To:        string(to),
		Version:   review.Version,
		Override:  override,
	}
	if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.String("order_id", req.OrderID),
			zap.Error(err))
	}
}

// SubmitVoucher attaches a proof of payment to a bank-transfer payment and
// puts it up for review. Once reviewed a voucher is final; a new proof
// needs a new payment.
func (s *VoucherService) SubmitVoucher(ctx context.Context, orderID, paymentID, url string) (*models.OrderPayment, error) {
	ctx, span := util.StartSpan(ctx, "VoucherService.SubmitVoucher")
	defer span.End()

	url = strings.TrimSpace(url)
	if url == "" {
		return nil, validationErr("voucher_url is required")
	}

	payment, err := s.orders.GetPayment(ctx, orderID, paymentID)
	if err != nil {
		return nil, storeErr("get payment", err)
	}
	if payment.Method != models.PaymentMethodBankTransfer {
		return nil, ErrNotReviewable
	}
	if err := voucherSubmittable(payment); err != nil {
		return nil, err
	}

	updated, err := s.orders.SubmitVoucher(ctx, orderID, paymentID, url)
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			// lost a race; report what the winner left behind
			if current, getErr := s.orders.GetPayment(ctx, orderID, paymentID); getErr == nil {
				if err := voucherSubmittable(current); err != nil {
					return nil, err
				}
			}
			return nil, fmt.Errorf("%w: payment %s changed concurrently", ErrConflict, paymentID)
		}
		return nil, storeErr("submit voucher", err)
	}

	s.logger.Info("Voucher submitted",
		zap.String("order_id", orderID),
		zap.String("payment_id", paymentID))
	return updated, nil
}

func voucherSubmittable(p *models.OrderPayment) error {
	if p.VoucherStatus == nil {
		return nil
	}
	if *p.VoucherStatus == models.VoucherStatusPending {
		return fmt.Errorf("%w: payment %s already has a pending voucher", ErrConflict, p.ID)
	}
	return ErrAlreadyReviewed
}
