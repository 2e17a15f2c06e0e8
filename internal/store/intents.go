package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/models"
)

const intentColumns = `id, idempotency_key, session_id, store_id, status, order_id, invoice_id,
	invoice_requested, invoice_state, ledger_transaction_id, payment_method, tendered, total,
	change_due, currency, performed_by, last_error, attempts, created_at, updated_at`

// CreateIntent persists a pending checkout intent. If an intent already
// exists for the idempotency key it is returned with created false.
func (s *Store) CreateIntent(ctx context.Context, intent *models.CheckoutIntent) (*models.CheckoutIntent, bool, error) {
	query := `
		INSERT INTO checkout_intents (id, idempotency_key, session_id, store_id, status,
			invoice_requested, invoice_state, payment_method, tendered, total, change_due,
			currency, performed_by, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		intent.ID, intent.IdempotencyKey, intent.SessionID, intent.StoreID, intent.Status,
		intent.InvoiceRequested, intent.InvoiceState, intent.PaymentMethod, intent.Tendered,
		intent.Total, intent.Change, intent.Currency, intent.PerformedBy, intent.Attempts,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := s.GetIntentByKey(ctx, intent.IdempotencyKey)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create checkout intent: %w", err)
	}
	return intent, true, nil
}

// GetIntent retrieves an intent by ID
func (s *Store) GetIntent(ctx context.Context, id string) (*models.CheckoutIntent, error) {
	return s.getIntentWhere(ctx, "id = $1", id)
}

// GetIntentByKey retrieves an intent by idempotency key
func (s *Store) GetIntentByKey(ctx context.Context, key string) (*models.CheckoutIntent, error) {
	return s.getIntentWhere(ctx, "idempotency_key = $1", key)
}

func (s *Store) getIntentWhere(ctx context.Context, where string, arg interface{}) (*models.CheckoutIntent, error) {
	var intent models.CheckoutIntent
	err := s.db.GetContext(ctx, &intent, "SELECT "+intentColumns+" FROM checkout_intents WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// UpdateIntent writes the saga progress fields of an intent
func (s *Store) UpdateIntent(ctx context.Context, intent *models.CheckoutIntent) error {
	query := `
		UPDATE checkout_intents
		SET status = $2, order_id = $3, invoice_id = $4, invoice_state = $5,
			ledger_transaction_id = $6, last_error = $7, attempts = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		intent.ID, intent.Status, intent.OrderID, intent.InvoiceID, intent.InvoiceState,
		intent.LedgerTransactionID, intent.LastError, intent.Attempts,
	).Scan(&intent.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update checkout intent: %w", err)
	}
	return nil
}

// ListStaleIntents returns unfinished intents not touched since olderThan
func (s *Store) ListStaleIntents(ctx context.Context, olderThan time.Time, limit int) ([]models.CheckoutIntent, error) {
	intents := []models.CheckoutIntent{}
	err := s.db.SelectContext(ctx, &intents,
		"SELECT "+intentColumns+` FROM checkout_intents
		WHERE status IN ('pending', 'order_created') AND updated_at < $1
		ORDER BY updated_at LIMIT $2`, olderThan, limit)
	return intents, err
}
