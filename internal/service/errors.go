package service

import (
	"errors"
	"fmt"

	"pos-service/internal/store"
)

var (
	ErrAlreadyOpen        = errors.New("register already has an open session")
	ErrNotOpen            = errors.New("register session is not open")
	ErrInsufficientTender = errors.New("tendered amount is less than the total")
	ErrAlreadyReviewed    = errors.New("voucher has already been reviewed")
	ErrNotReviewable      = errors.New("payment has no voucher to review")
	ErrPartialCheckout    = errors.New("sale recorded, receipt or ledger incomplete")
	ErrConflict           = errors.New("order changed since it was read, reload and retry")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrPersistence        = errors.New("persistence failure")
)

// PartialCheckoutError reports a sale whose order exists but whose
// invoice or ledger step did not finish. It matches ErrPartialCheckout.
type PartialCheckoutError struct {
	IntentID  string
	OrderID   string
	InvoiceID string
	Step      string
	Err       error
}

func (e *PartialCheckoutError) Error() string {
	return fmt.Sprintf("%s: order %s, step %s: %v", ErrPartialCheckout, e.OrderID, e.Step, e.Err)
}

func (e *PartialCheckoutError) Is(target error) bool {
	return target == ErrPartialCheckout
}

func (e *PartialCheckoutError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a storage or transport failure. It matches
// ErrPersistence and unwraps to the cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// storeErr translates store sentinels; anything else becomes a
// PersistenceError
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return &PersistenceError{Op: op, Err: err}
}

func validationErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
