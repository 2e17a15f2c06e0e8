package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `id, store_id, session_id, source, customer, subtotal, tax_amount,
	shipping_amount, discount_amount, total_amount, currency, status, payment_status,
	fulfillment_status, shipping_address, internal_notes,
	COALESCE(idempotency_key, '') AS idempotency_key, version, created_at, updated_at`

const paymentColumns = `id, order_id, position, method, amount, status, tendered, change_given,
	reference, voucher_url, voucher_status, voucher_notes, reviewed_by, reviewed_at`

// orderFieldColumns whitelists the columns UpdateOrderField may write
var orderFieldColumns = map[models.StatusAxis]string{
	models.AxisOrder:       "status",
	models.AxisPayment:     "payment_status",
	models.AxisFulfillment: "fulfillment_status",
}

// CreateOrder inserts an order with its items and payments in one
// transaction. When an order with the same idempotency key already exists
// the stored order is returned and created is false.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, bool, error) {
	created := true
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO orders (id, store_id, session_id, source, customer, subtotal, tax_amount,
				shipping_amount, discount_amount, total_amount, currency, status, payment_status,
				fulfillment_status, shipping_address, internal_notes, idempotency_key, version,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, 1, $18, $18)
			ON CONFLICT (idempotency_key) DO NOTHING
			RETURNING version, created_at, updated_at`

		err := tx.QueryRowxContext(ctx, query,
			order.ID, order.StoreID, order.SessionID, order.Source, order.Customer,
			order.Subtotal, order.TaxAmount, order.ShippingAmount, order.DiscountAmount,
			order.TotalAmount, order.Currency, order.Status, order.PaymentStatus,
			order.FulfillmentStatus, order.ShippingAddress, order.InternalNotes,
			nullString(order.IdempotencyKey), order.CreatedAt,
		).Scan(&order.Version, &order.CreatedAt, &order.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			created = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			item.Position = i
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, position, product_id, variant_id, sku, name,
					unit_price, quantity, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				item.ID, item.OrderID, item.Position, item.ProductID, item.VariantID, item.SKU,
				item.Name, item.UnitPrice, item.Quantity, item.LineTotal); err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		for i := range order.PaymentMethods {
			p := &order.PaymentMethods[i]
			p.OrderID = order.ID
			p.Position = i
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_payments (id, order_id, position, method, amount, status, tendered,
					change_given, reference, voucher_url, voucher_status, voucher_notes)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				p.ID, p.OrderID, p.Position, p.Method, p.Amount, p.Status, p.Tendered, p.Change,
				p.Reference, p.VoucherURL, p.VoucherStatus, p.VoucherNotes); err != nil {
				return fmt.Errorf("failed to insert order payment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !created {
		existing, err := s.GetOrderByIdempotencyKey(ctx, order.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return order, true, nil
}

// GetOrder retrieves an order with its items and payments
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.getOrderWhere(ctx, "id = $1", id)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.getOrderWhere(ctx, "idempotency_key = $1", key)
}

func (s *Store) getOrderWhere(ctx context.Context, where string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	orders := []models.Order{order}
	if err := s.loadChildren(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// loadChildren attaches items and payments to orders with one query each
func (s *Store) loadChildren(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Items = []models.OrderItem{}
		orders[i].PaymentMethods = []models.OrderPayment{}
	}

	query, args, err := sqlx.In(`
		SELECT id, order_id, position, product_id, variant_id, sku, name, unit_price, quantity, line_total
		FROM order_items WHERE order_id IN (?) ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	for _, item := range items {
		o := &orders[index[item.OrderID]]
		o.Items = append(o.Items, item)
	}

	query, args, err = sqlx.In(
		"SELECT "+paymentColumns+" FROM order_payments WHERE order_id IN (?) ORDER BY order_id, position", ids)
	if err != nil {
		return err
	}
	var payments []models.OrderPayment
	if err := s.db.SelectContext(ctx, &payments, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to load order payments: %w", err)
	}
	for _, p := range payments {
		o := &orders[index[p.OrderID]]
		o.PaymentMethods = append(o.PaymentMethods, p)
	}
	return nil
}

// ListOrders runs the filter, sort and page window of q in SQL
func (s *Store) ListOrders(ctx context.Context, q models.OrderQuery) (models.OrderPage, error) {
	q = q.Normalize()

	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.StoreID != "" {
		conds = append(conds, "o.store_id = "+arg(q.StoreID))
	}
	if len(q.Statuses) > 0 {
		conds = append(conds, "o.status = ANY("+arg(pq.Array(toStrings(q.Statuses)))+")")
	}
	if len(q.PaymentStatuses) > 0 {
		conds = append(conds, "o.payment_status = ANY("+arg(pq.Array(toStrings(q.PaymentStatuses)))+")")
	}
	if len(q.FulfillmentStatuses) > 0 {
		conds = append(conds, "o.fulfillment_status = ANY("+arg(pq.Array(toStrings(q.FulfillmentStatuses)))+")")
	}
	if len(q.Sources) > 0 {
		conds = append(conds, "o.source = ANY("+arg(pq.Array(toStrings(q.Sources)))+")")
	}
	if q.From != nil {
		conds = append(conds, "o.created_at >= "+arg(*q.From))
	}
	if q.To != nil {
		conds = append(conds, "o.created_at < "+arg(*q.To))
	}
	if q.Text != "" {
		p := arg("%" + escapeLike(q.Text) + "%")
		conds = append(conds, fmt.Sprintf(`(o.id ILIKE %[1]s
			OR o.customer->>'name' ILIKE %[1]s
			OR o.customer->>'email' ILIKE %[1]s
			OR o.customer->>'phone' ILIKE %[1]s
			OR EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id
				AND (i.sku ILIKE %[1]s OR i.name ILIKE %[1]s)))`, p))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders o"+where, args...); err != nil {
		return models.OrderPage{}, fmt.Errorf("failed to count orders: %w", err)
	}

	dir := "ASC"
	if q.SortDesc {
		dir = "DESC"
	}
	// SortBy is whitelisted by Normalize
	query := fmt.Sprintf("SELECT %s FROM orders o%s ORDER BY o.%s %s, o.id %s LIMIT %s OFFSET %s",
		orderColumns, where, q.SortBy, dir, dir, arg(q.PerPage), arg(q.Offset()))

	orders := []models.Order{}
	if err := s.db.SelectContext(ctx, &orders, query, args...); err != nil {
		return models.OrderPage{}, fmt.Errorf("failed to list orders: %w", err)
	}
	if err := s.loadChildren(ctx, orders); err != nil {
		return models.OrderPage{}, err
	}

	return models.NewOrderPage(orders, q.Params, total), nil
}

// UpdateOrderField compare-and-swaps one status column. The write applies
// only while the column still holds from and, when expectedVersion is
// non-zero, while the order version matches. Returns the new version.
func (s *Store) UpdateOrderField(ctx context.Context, id string, axis models.StatusAxis, from, to string, expectedVersion int64) (int64, time.Time, error) {
	col, ok := orderFieldColumns[axis]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unknown status axis %q", axis)
	}

	query := fmt.Sprintf(`
		UPDATE orders SET %[1]s = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND %[1]s = $3 AND ($4::bigint = 0 OR version = $4::bigint)
		RETURNING version, updated_at`, col)

	var (
		version   int64
		updatedAt time.Time
	)
	err := s.db.QueryRowxContext(ctx, query, to, id, from, expectedVersion).Scan(&version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id); err != nil {
			return 0, time.Time{}, err
		}
		if !exists {
			return 0, time.Time{}, ErrNotFound
		}
		return 0, time.Time{}, ErrStale
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to update order %s: %w", col, err)
	}
	return version, updatedAt, nil
}

// GetPayment retrieves one payment of an order
func (s *Store) GetPayment(ctx context.Context, orderID, paymentID string) (*models.OrderPayment, error) {
	var p models.OrderPayment
	err := s.db.GetContext(ctx, &p,
		"SELECT "+paymentColumns+" FROM order_payments WHERE order_id = $1 AND id = $2", orderID, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ReviewVoucher records a one-shot review decision. The voucher write only
// applies while it is pending; otherwise ErrStale is returned. In the same
// transaction the order version is bumped and, on approval, the payment
// and the order payment status become paid.
func (s *Store) ReviewVoucher(ctx context.Context, orderID, paymentID string, decision models.VoucherStatus, reviewer, notes string, at time.Time) (*models.VoucherReview, error) {
	review := &models.VoucherReview{}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &review.PreviousPaymentStatus,
			"SELECT payment_status FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		query := `
			UPDATE order_payments
			SET voucher_status = $3::text,
				voucher_notes = $4,
				reviewed_by = $5,
				reviewed_at = $6,
				status = CASE WHEN $3::text = 'approved' THEN 'paid' ELSE status END
			WHERE order_id = $1 AND id = $2 AND voucher_status = 'pending'
			RETURNING ` + paymentColumns
		err = tx.GetContext(ctx, &review.Payment, query, orderID, paymentID, string(decision), notes, reviewer, at)
		if errors.Is(err, sql.ErrNoRows) {
			return paymentMissingOrStale(ctx, tx, orderID, paymentID)
		}
		if err != nil {
			return fmt.Errorf("failed to review voucher: %w", err)
		}

		return tx.QueryRowxContext(ctx, `
			UPDATE orders
			SET payment_status = CASE WHEN $2::text = 'approved' THEN 'paid' ELSE payment_status END,
				version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING payment_status, version, updated_at`,
			orderID, string(decision),
		).Scan(&review.PaymentStatus, &review.Version, &review.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// SubmitVoucher attaches a proof of payment to a bank-transfer payment and
// marks it pending review. Only a payment that never carried a voucher
// accepts one; a reviewed voucher is final. The order version is bumped.
func (s *Store) SubmitVoucher(ctx context.Context, orderID, paymentID, url string) (*models.OrderPayment, error) {
	var p models.OrderPayment
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE order_payments
			SET voucher_url = $3, voucher_status = 'pending', voucher_notes = '',
				reviewed_by = '', reviewed_at = NULL
			WHERE order_id = $1 AND id = $2 AND method = 'bank_transfer'
				AND voucher_status IS NULL
			RETURNING ` + paymentColumns
		err := tx.GetContext(ctx, &p, query, orderID, paymentID, url)
		if errors.Is(err, sql.ErrNoRows) {
			return paymentMissingOrStale(ctx, tx, orderID, paymentID)
		}
		if err != nil {
			return fmt.Errorf("failed to submit voucher: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE orders SET version = version + 1, updated_at = NOW() WHERE id = $1", orderID)
		if err != nil {
			return fmt.Errorf("failed to bump order version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func paymentMissingOrStale(ctx context.Context, tx *sqlx.Tx, orderID, paymentID string) error {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM order_payments WHERE order_id = $1 AND id = $2)", orderID, paymentID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStale
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
