package quotations

import (
	"fmt"

	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var (
	// ErrNotFound indicates the quotation does not exist.
	ErrNotFound = fmt.Errorf("quotation: %w", shared.ErrNotFound)
	// ErrNotEditable indicates the quotation left the editable states.
	ErrNotEditable = fmt.Errorf("%w: quotation is no longer editable", shared.ErrInvariant)
	// ErrNotApproved indicates conversion was attempted before approval.
	ErrNotApproved = fmt.Errorf("%w: only approved quotations convert to orders", shared.ErrInvariant)
	// ErrExpired indicates the validity window has passed.
	ErrExpired = fmt.Errorf("%w: quotation has expired", shared.ErrInvariant)
	// ErrConverted indicates the quotation was already converted.
	ErrConverted = fmt.Errorf("%w: quotation was already converted", shared.ErrInvariant)
	// ErrNoItems indicates conversion of an empty quotation.
	ErrNoItems = fmt.Errorf("%w: quotation has no items", shared.ErrValidation)
)

// InvalidTransitionError reports an illegal lifecycle move.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("quotation cannot move from %s to %s", e.From, e.To)
}

// Unwrap classifies the error as an invariant violation.
func (e *InvalidTransitionError) Unwrap() error { return shared.ErrInvariant }
