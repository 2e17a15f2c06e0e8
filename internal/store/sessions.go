package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/models"
)

const sessionColumns = `id, store_id, register_id, register_name, cashier_id, opening_balance,
	currency, notes, status, expected_cash, closing_notes, opened_at, closed_at`

// CreateSession inserts an open session. The partial unique index on open
// sessions makes this an atomic check-and-create: a second open session for
// the same register fails with ErrDuplicate.
func (s *Store) CreateSession(ctx context.Context, session *models.RegisterSession) error {
	query := `
		INSERT INTO register_sessions (id, store_id, register_id, register_name, cashier_id,
			opening_balance, currency, notes, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open', $9)
		RETURNING status, opened_at`

	err := s.db.GetContext(ctx, session, query,
		session.ID, session.StoreID, session.RegisterID, session.RegisterName, session.CashierID,
		session.OpeningBalance, session.Currency, session.Notes, session.OpenedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*models.RegisterSession, error) {
	var session models.RegisterSession
	err := s.db.GetContext(ctx, &session,
		"SELECT "+sessionColumns+" FROM register_sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetOpenSession returns the open session of a register or ErrNotFound
func (s *Store) GetOpenSession(ctx context.Context, storeID, registerID string) (*models.RegisterSession, error) {
	var session models.RegisterSession
	err := s.db.GetContext(ctx, &session,
		"SELECT "+sessionColumns+` FROM register_sessions
		WHERE store_id = $1 AND register_id = $2 AND status = 'open'`, storeID, registerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListOpenSessions returns every open session of a store
func (s *Store) ListOpenSessions(ctx context.Context, storeID string) ([]models.RegisterSession, error) {
	sessions := []models.RegisterSession{}
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT "+sessionColumns+` FROM register_sessions
		WHERE store_id = $1 AND status = 'open' ORDER BY opened_at`, storeID)
	return sessions, err
}

// CloseSession transitions an open session to closed and stamps the
// expected drawer cash computed from its ledger in the same statement.
// A session that exists but is not open yields ErrStale.
func (s *Store) CloseSession(ctx context.Context, id, closingNotes string, closedAt time.Time) (*models.RegisterSession, error) {
	query := `
		UPDATE register_sessions rs
		SET status = 'closed',
			closed_at = $2,
			closing_notes = $3,
			expected_cash = rs.opening_balance + COALESCE((
				SELECT SUM(CASE
					WHEN lt.type = 'sale' AND lt.payment_method = 'cash' THEN lt.amount
					WHEN lt.type = 'refund' AND lt.payment_method = 'cash' THEN -lt.amount
					WHEN lt.type = 'adjustment' THEN lt.amount
					ELSE 0 END)
				FROM ledger_transactions lt WHERE lt.session_id = rs.id), 0)
		WHERE rs.id = $1 AND rs.status = 'open'
		RETURNING ` + sessionColumns

	var session models.RegisterSession
	err := s.db.GetContext(ctx, &session, query, id, closedAt, closingNotes)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetSession(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStale
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}
	return &session, nil
}
