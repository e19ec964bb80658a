package invoices

import (
	"fmt"

	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var (
	ErrNotFound      = fmt.Errorf("invoice: %w", shared.ErrNotFound)
	ErrNotDraft      = fmt.Errorf("%w: invoice is not a draft", shared.ErrInvariant)
	ErrInvalidAmount = fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	ErrInvalidMethod = fmt.Errorf("%w: unknown payment method", shared.ErrValidation)
)

// DuplicateError reports an attempt to invoice an order that already has one.
// Existing carries the invoice that blocked the creation so callers can
// reuse it.
type DuplicateError struct {
	Existing *Invoice
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("order %d already has invoice %s", e.Existing.OrderID, e.Existing.Number)
}

func (e *DuplicateError) Unwrap() error { return shared.ErrInvariant }
