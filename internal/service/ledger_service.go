package service

import (
	"context"
	"errors"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerService appends cash-drawer movements to a session's ledger
type LedgerService struct {
	store    LedgerStore
	sessions SessionStore
	logger   *zap.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(store LedgerStore, sessions SessionStore) *LedgerService {
	return &LedgerService{store: store, sessions: sessions, logger: util.GetLogger()}
}

// RegisterTransactionRequest describes one drawer movement
type RegisterTransactionRequest struct {
	SessionID     string               `json:"session_id" binding:"required"`
	StoreID       string               `json:"store_id"`
	Type          models.LedgerType    `json:"type" binding:"required"`
	Amount        decimal.Decimal      `json:"amount"`
	Currency      string               `json:"currency"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	OrderID       string               `json:"order_id"`
	InvoiceID     string               `json:"invoice_id"`
	PerformedBy   string               `json:"-"`
}

func (r *RegisterTransactionRequest) validate() error {
	if !r.Type.Valid() {
		return validationErr("unknown ledger type %q", r.Type)
	}
	if r.Type == models.LedgerTypeAdjustment {
		if r.Amount.IsZero() {
			return validationErr("adjustment amount must not be zero")
		}
	} else if !r.Amount.IsPositive() {
		return validationErr("%s amount must be positive", r.Type)
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = models.PaymentMethodCash
	}
	if !r.PaymentMethod.Valid() {
		return validationErr("unknown payment method %q", r.PaymentMethod)
	}
	if r.PerformedBy == "" {
		return validationErr("performed_by is required")
	}
	return nil
}

// RegisterTransaction records a movement against an open session. A sale
// for an order that already has one returns the existing entry.
func (s *LedgerService) RegisterTransaction(ctx context.Context, req *RegisterTransactionRequest) (*models.LedgerTransaction, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.RegisterTransaction")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, storeErr("get session", err)
	}
	if req.StoreID == "" {
		req.StoreID = session.StoreID
	}
	if req.StoreID != session.StoreID {
		return nil, validationErr("session %s belongs to another store", session.ID)
	}
	if req.Currency == "" {
		req.Currency = session.Currency
	}
	if !session.IsOpen() {
		return nil, ErrNotOpen
	}

	return s.record(ctx, req, true)
}

// RecordSale writes the sale entry of a checkout. The session is not
// re-checked: the sale was validated against an open session before the
// order was created, and a resumed checkout must still land its entry.
func (s *LedgerService) RecordSale(ctx context.Context, req *RegisterTransactionRequest) (*models.LedgerTransaction, error) {
	req.Type = models.LedgerTypeSale
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.record(ctx, req, false)
}

func (s *LedgerService) record(ctx context.Context, req *RegisterTransactionRequest, requireOpen bool) (*models.LedgerTransaction, error) {
	txn := &models.LedgerTransaction{
		ID:            newID(),
		SessionID:     req.SessionID,
		StoreID:       req.StoreID,
		Type:          req.Type,
		Amount:        req.Amount.Round(2),
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		OrderID:       optional(req.OrderID),
		InvoiceID:     optional(req.InvoiceID),
		PerformedBy:   req.PerformedBy,
	}

	saved, created, err := s.store.RecordLedgerTransaction(ctx, txn, requireOpen)
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, ErrNotOpen
		}
		return nil, storeErr("record ledger transaction", err)
	}

	if created {
		s.logger.Info("Ledger transaction recorded",
			zap.String("transaction_id", saved.ID),
			zap.String("session_id", saved.SessionID),
			zap.String("type", string(saved.Type)),
			zap.String("amount", saved.Amount.String()))
	}
	return saved, nil
}

// ListSessionTransactions returns a session's ledger, oldest first
func (s *LedgerService) ListSessionTransactions(ctx context.Context, sessionID string) ([]models.LedgerTransaction, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, storeErr("get session", err)
	}
	txns, err := s.store.ListLedgerBySession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list ledger", err)
	}
	return txns, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
