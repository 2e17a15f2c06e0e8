package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a register session
type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "open"
	SessionStatusClosed SessionStatus = "closed"
)

// RegisterSession wraps one cashier's use of a register
type RegisterSession struct {
	ID             string              `db:"id" json:"id"`
	StoreID        string              `db:"store_id" json:"store_id"`
	RegisterID     string              `db:"register_id" json:"register_id"`
	RegisterName   string              `db:"register_name" json:"register_name"`
	CashierID      string              `db:"cashier_id" json:"cashier_id"`
	OpeningBalance decimal.Decimal     `db:"opening_balance" json:"opening_balance"`
	Currency       string              `db:"currency" json:"currency"`
	Notes          string              `db:"notes" json:"notes,omitempty"`
	Status         SessionStatus       `db:"status" json:"status"`
	ExpectedCash   decimal.NullDecimal `db:"expected_cash" json:"expected_cash,omitempty"`
	ClosingNotes   string              `db:"closing_notes" json:"closing_notes,omitempty"`
	OpenedAt       time.Time           `db:"opened_at" json:"opened_at"`
	ClosedAt       *time.Time          `db:"closed_at" json:"closed_at,omitempty"`
}

// IsOpen reports whether the session still accepts sales
func (s *RegisterSession) IsOpen() bool {
	return s.Status == SessionStatusOpen
}

// OrderSource identifies the channel that created an order
type OrderSource string

const (
	OrderSourceWeb   OrderSource = "web"
	OrderSourcePOS   OrderSource = "pos"
	OrderSourceAdmin OrderSource = "admin"
)

// Valid reports whether s is a known source
func (s OrderSource) Valid() bool {
	switch s {
	case OrderSourceWeb, OrderSourcePOS, OrderSourceAdmin:
		return true
	}
	return false
}

// PaymentMethod is how a payment was tendered
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodMobile       PaymentMethod = "mobile"
	PaymentMethodOther        PaymentMethod = "other"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodBankTransfer, PaymentMethodMobile, PaymentMethodOther:
		return true
	}
	return false
}

// VoucherStatus is the review state of an uploaded proof of payment
type VoucherStatus string

const (
	VoucherStatusPending  VoucherStatus = "pending"
	VoucherStatusApproved VoucherStatus = "approved"
	VoucherStatusRejected VoucherStatus = "rejected"
)

// CustomerSnapshot is a copy of the customer taken at sale time
type CustomerSnapshot struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// Value implements driver.Valuer
func (c CustomerSnapshot) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *CustomerSnapshot) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// Address is a shipping address snapshot
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Value implements driver.Valuer
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *Address) Scan(value interface{}) error {
	return scanJSON(value, a)
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}

// Order is the authoritative financial record of a sale
type Order struct {
	ID                string            `db:"id" json:"id"`
	StoreID           string            `db:"store_id" json:"store_id"`
	SessionID         string            `db:"session_id" json:"session_id,omitempty"`
	Source            OrderSource       `db:"source" json:"source"`
	Customer          CustomerSnapshot  `db:"customer" json:"customer"`
	Items             []OrderItem       `db:"-" json:"items"`
	Subtotal          decimal.Decimal   `db:"subtotal" json:"subtotal"`
	TaxAmount         decimal.Decimal   `db:"tax_amount" json:"tax_amount"`
	ShippingAmount    decimal.Decimal   `db:"shipping_amount" json:"shipping_amount"`
	DiscountAmount    decimal.Decimal   `db:"discount_amount" json:"discount_amount"`
	TotalAmount       decimal.Decimal   `db:"total_amount" json:"total_amount"`
	Currency          string            `db:"currency" json:"currency"`
	Status            OrderStatus       `db:"status" json:"status"`
	PaymentStatus     PaymentStatus     `db:"payment_status" json:"payment_status"`
	FulfillmentStatus FulfillmentStatus `db:"fulfillment_status" json:"fulfillment_status"`
	PaymentMethods    []OrderPayment    `db:"-" json:"payment_methods"`
	ShippingAddress   Address           `db:"shipping_address" json:"shipping_address"`
	InternalNotes     string            `db:"internal_notes" json:"internal_notes,omitempty"`
	IdempotencyKey    string            `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Version           int64             `db:"version" json:"version"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// Payment returns the payment with the given id
func (o *Order) Payment(paymentID string) (*OrderPayment, bool) {
	for i := range o.PaymentMethods {
		if o.PaymentMethods[i].ID == paymentID {
			return &o.PaymentMethods[i], true
		}
	}
	return nil, false
}

// OrderItem is a product/variant snapshot at sale time
type OrderItem struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	VariantID string          `db:"variant_id" json:"variant_id,omitempty"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity  int             `db:"quantity" json:"quantity"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
	Position  int             `db:"position" json:"-"`
}

// LineItems is an item list stored as a JSON document
type LineItems []OrderItem

// Value implements driver.Valuer
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *LineItems) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// OrderPayment is one payment applied to an order
type OrderPayment struct {
	ID            string              `db:"id" json:"id"`
	OrderID       string              `db:"order_id" json:"order_id"`
	Method        PaymentMethod       `db:"method" json:"method"`
	Amount        decimal.Decimal     `db:"amount" json:"amount"`
	Status        PaymentStatus       `db:"status" json:"status"`
	Tendered      decimal.NullDecimal `db:"tendered" json:"tendered,omitempty"`
	Change        decimal.NullDecimal `db:"change_given" json:"change,omitempty"`
	Reference     string              `db:"reference" json:"reference,omitempty"`
	VoucherURL    string              `db:"voucher_url" json:"voucher_url,omitempty"`
	VoucherStatus *VoucherStatus      `db:"voucher_status" json:"voucher_status,omitempty"`
	VoucherNotes  string              `db:"voucher_notes" json:"voucher_notes,omitempty"`
	ReviewedBy    string              `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Position      int                 `db:"position" json:"-"`
}

// VoucherReview is a voucher decision together with the order state it
// left behind. Both are written in one unit.
type VoucherReview struct {
	Payment               OrderPayment
	PreviousPaymentStatus PaymentStatus
	PaymentStatus         PaymentStatus
	Version               int64
	UpdatedAt             time.Time
}

// InvoiceStatus represents the status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice is a financial document derived from an order snapshot.
// Once issued only AmountPaid and Status change.
type Invoice struct {
	ID             string           `db:"id" json:"id"`
	Number         string           `db:"number" json:"number"`
	OrderID        string           `db:"order_id" json:"order_id"`
	StoreID        string           `db:"store_id" json:"store_id"`
	Customer       CustomerSnapshot `db:"customer" json:"customer"`
	Items          LineItems        `db:"items" json:"items"`
	Subtotal       decimal.Decimal  `db:"subtotal" json:"subtotal"`
	TaxAmount      decimal.Decimal  `db:"tax_amount" json:"tax_amount"`
	ShippingAmount decimal.Decimal  `db:"shipping_amount" json:"shipping_amount"`
	DiscountAmount decimal.Decimal  `db:"discount_amount" json:"discount_amount"`
	TotalAmount    decimal.Decimal  `db:"total_amount" json:"total_amount"`
	AmountPaid     decimal.Decimal  `db:"amount_paid" json:"amount_paid"`
	Currency       string           `db:"currency" json:"currency"`
	Status         InvoiceStatus    `db:"status" json:"status"`
	IssueDate      time.Time        `db:"issue_date" json:"issue_date"`
	DueDate        time.Time        `db:"due_date" json:"due_date"`
	PaymentTerms   string           `db:"payment_terms" json:"payment_terms,omitempty"`
	IssuedBy       string           `db:"issued_by" json:"issued_by"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// Balance is the amount still owed on the invoice
func (i *Invoice) Balance() decimal.Decimal {
	b := i.TotalAmount.Sub(i.AmountPaid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// LedgerType classifies a cash-drawer movement
type LedgerType string

const (
	LedgerTypeSale       LedgerType = "sale"
	LedgerTypeRefund     LedgerType = "refund"
	LedgerTypeAdjustment LedgerType = "adjustment"
)

// Valid reports whether t is a known ledger type
func (t LedgerType) Valid() bool {
	switch t {
	case LedgerTypeSale, LedgerTypeRefund, LedgerTypeAdjustment:
		return true
	}
	return false
}

// LedgerTransaction is an append-only cash-drawer movement.
// Never updated or deleted after creation.
type LedgerTransaction struct {
	ID            string          `db:"id" json:"id"`
	SessionID     string          `db:"session_id" json:"session_id"`
	StoreID       string          `db:"store_id" json:"store_id"`
	Type          LedgerType      `db:"type" json:"type"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	PaymentMethod PaymentMethod   `db:"payment_method" json:"payment_method"`
	OrderID       *string         `db:"order_id" json:"order_id,omitempty"`
	InvoiceID     *string         `db:"invoice_id" json:"invoice_id,omitempty"`
	PerformedBy   string          `db:"performed_by" json:"performed_by"`
	Timestamp     time.Time       `db:"created_at" json:"timestamp"`
}

// CashEffect is the signed effect of the entry on the physical drawer
func (t *LedgerTransaction) CashEffect() decimal.Decimal {
	if t.PaymentMethod != PaymentMethodCash && t.Type != LedgerTypeAdjustment {
		return decimal.Zero
	}
	if t.Type == LedgerTypeRefund {
		return t.Amount.Neg()
	}
	return t.Amount
}

// IntentStatus is the progress of a checkout saga
type IntentStatus string

const (
	IntentStatusPending      IntentStatus = "pending"
	IntentStatusOrderCreated IntentStatus = "order_created"
	IntentStatusCompleted    IntentStatus = "completed"
	IntentStatusFailed       IntentStatus = "failed"
)

// InvoiceState tracks the invoice step of a checkout intent
type InvoiceState string

const (
	InvoiceStateNone   InvoiceState = "none"
	InvoiceStateIssued InvoiceState = "issued"
	InvoiceStateQueued InvoiceState = "queued"
)

// CheckoutIntent is the durable saga record of one checkout attempt.
// IdempotencyKey is unique; each step writes its result here.
type CheckoutIntent struct {
	ID                  string          `db:"id" json:"id"`
	IdempotencyKey      string          `db:"idempotency_key" json:"idempotency_key"`
	SessionID           string          `db:"session_id" json:"session_id"`
	StoreID             string          `db:"store_id" json:"store_id"`
	Status              IntentStatus    `db:"status" json:"status"`
	OrderID             *string         `db:"order_id" json:"order_id,omitempty"`
	InvoiceID           *string         `db:"invoice_id" json:"invoice_id,omitempty"`
	InvoiceRequested    bool            `db:"invoice_requested" json:"invoice_requested"`
	InvoiceState        InvoiceState    `db:"invoice_state" json:"invoice_state"`
	LedgerTransactionID *string         `db:"ledger_transaction_id" json:"ledger_transaction_id,omitempty"`
	PaymentMethod       PaymentMethod   `db:"payment_method" json:"payment_method"`
	Tendered            decimal.Decimal `db:"tendered" json:"tendered"`
	Total               decimal.Decimal `db:"total" json:"total"`
	Change              decimal.Decimal `db:"change_due" json:"change"`
	Currency            string          `db:"currency" json:"currency"`
	PerformedBy         string          `db:"performed_by" json:"performed_by"`
	LastError           string          `db:"last_error" json:"last_error,omitempty"`
	Attempts            int             `db:"attempts" json:"attempts"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}
