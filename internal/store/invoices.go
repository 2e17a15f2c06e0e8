package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const invoiceColumns = `id, number, order_id, store_id, customer, items, subtotal, tax_amount,
	shipping_amount, discount_amount, total_amount, amount_paid, currency, status, issue_date,
	due_date, payment_terms, issued_by, created_at, updated_at`

// FormatInvoiceNumber renders the per-store sequential invoice number
func FormatInvoiceNumber(year, seq int) string {
	return fmt.Sprintf("INV-%d-%04d", year, seq)
}

// CreateInvoice allocates the next number for the store and year and
// inserts the invoice in one transaction. An invoice already issued for the
// order is returned with created false and no number is consumed.
func (s *Store) CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, bool, error) {
	if existing, err := s.GetInvoiceByOrderID(ctx, inv.OrderID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var seq int
		if err := tx.GetContext(ctx, &seq, `
			INSERT INTO invoice_sequences (store_id, year, last_value)
			VALUES ($1, $2, 1)
			ON CONFLICT (store_id, year) DO UPDATE SET last_value = invoice_sequences.last_value + 1
			RETURNING last_value`, inv.StoreID, inv.IssueDate.Year()); err != nil {
			return fmt.Errorf("failed to allocate invoice number: %w", err)
		}
		inv.Number = FormatInvoiceNumber(inv.IssueDate.Year(), seq)

		return tx.QueryRowxContext(ctx, `
			INSERT INTO invoices (id, number, order_id, store_id, customer, items, subtotal, tax_amount,
				shipping_amount, discount_amount, total_amount, amount_paid, currency, status,
				issue_date, due_date, payment_terms, issued_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING created_at, updated_at`,
			inv.ID, inv.Number, inv.OrderID, inv.StoreID, inv.Customer, inv.Items, inv.Subtotal,
			inv.TaxAmount, inv.ShippingAmount, inv.DiscountAmount, inv.TotalAmount, inv.AmountPaid,
			inv.Currency, inv.Status, inv.IssueDate, inv.DueDate, inv.PaymentTerms, inv.IssuedBy,
		).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	})
	if isUniqueViolation(err) {
		// lost a race with a concurrent issue for the same order
		existing, getErr := s.GetInvoiceByOrderID(ctx, inv.OrderID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return inv, true, nil
}

// GetInvoice retrieves an invoice by ID
func (s *Store) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	return s.getInvoiceWhere(ctx, "id = $1", id)
}

// GetInvoiceByOrderID retrieves the invoice issued for an order
func (s *Store) GetInvoiceByOrderID(ctx context.Context, orderID string) (*models.Invoice, error) {
	return s.getInvoiceWhere(ctx, "order_id = $1", orderID)
}

func (s *Store) getInvoiceWhere(ctx context.Context, where string, arg interface{}) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.GetContext(ctx, &inv, "SELECT "+invoiceColumns+" FROM invoices WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ApplyInvoicePayment adds amount to the paid balance and marks the invoice
// paid once it is settled. Cancelled invoices yield ErrStale.
func (s *Store) ApplyInvoicePayment(ctx context.Context, id string, amount decimal.Decimal) (*models.Invoice, error) {
	query := `
		UPDATE invoices
		SET amount_paid = amount_paid + $2,
			status = CASE WHEN amount_paid + $2 >= total_amount THEN 'paid' ELSE status END,
			updated_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'
		RETURNING ` + invoiceColumns

	var inv models.Invoice
	err := s.db.GetContext(ctx, &inv, query, id, amount)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetInvoice(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStale
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply invoice payment: %w", err)
	}
	return &inv, nil
}
