package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pos-service/internal/models"
)

const ledgerColumns = `id, session_id, store_id, type, amount, currency, payment_method,
	order_id, invoice_id, performed_by, created_at`

// RecordLedgerTransaction appends a drawer movement. With requireOpen the
// insert only happens while the session is open, else ErrStale. A sale for
// an order that already has one returns the stored entry with created false.
func (s *Store) RecordLedgerTransaction(ctx context.Context, txn *models.LedgerTransaction, requireOpen bool) (*models.LedgerTransaction, bool, error) {
	query := `
		INSERT INTO ledger_transactions (id, session_id, store_id, type, amount, currency,
			payment_method, order_id, invoice_id, performed_by, created_at)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::numeric, $6::text, $7::text,
			$8::text, $9::text, $10::text, $11::timestamptz
		WHERE NOT $12::boolean OR EXISTS (
			SELECT 1 FROM register_sessions WHERE id = $2::text AND status = 'open')
		RETURNING created_at`

	err := s.db.QueryRowxContext(ctx, query,
		txn.ID, txn.SessionID, txn.StoreID, txn.Type, txn.Amount, txn.Currency,
		txn.PaymentMethod, txn.OrderID, txn.InvoiceID, txn.PerformedBy, txn.Timestamp, requireOpen,
	).Scan(&txn.Timestamp)

	switch {
	case err == nil:
		return txn, true, nil
	case isUniqueViolation(err), errors.Is(err, sql.ErrNoRows):
		if txn.Type == models.LedgerTypeSale && txn.OrderID != nil {
			existing, getErr := s.GetSaleByOrder(ctx, *txn.OrderID)
			if getErr == nil {
				return existing, false, nil
			}
			if !errors.Is(getErr, ErrNotFound) {
				return nil, false, getErr
			}
		}
		if isUniqueViolation(err) {
			return nil, false, ErrDuplicate
		}
		return nil, false, ErrStale
	default:
		return nil, false, fmt.Errorf("failed to record ledger transaction: %w", err)
	}
}

// GetSaleByOrder returns the sale entry recorded for an order
func (s *Store) GetSaleByOrder(ctx context.Context, orderID string) (*models.LedgerTransaction, error) {
	var txn models.LedgerTransaction
	err := s.db.GetContext(ctx, &txn,
		"SELECT "+ledgerColumns+" FROM ledger_transactions WHERE order_id = $1 AND type = 'sale'", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListLedgerBySession returns a session's entries oldest first
func (s *Store) ListLedgerBySession(ctx context.Context, sessionID string) ([]models.LedgerTransaction, error) {
	txns := []models.LedgerTransaction{}
	err := s.db.SelectContext(ctx, &txns,
		"SELECT "+ledgerColumns+" FROM ledger_transactions WHERE session_id = $1 ORDER BY created_at, id",
		sessionID)
	return txns, err
}
