package orders

import (
	"fmt"

	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var (
	ErrNotFound           = fmt.Errorf("order: %w", shared.ErrNotFound)
	ErrInvalidStatus      = fmt.Errorf("%w: unknown order status", shared.ErrValidation)
	ErrJobsUnfinished     = fmt.Errorf("%w: order has unfinished production jobs", shared.ErrInvariant)
	ErrBalanceOutstanding = fmt.Errorf("%w: order cannot be released with an outstanding balance and no invoice", shared.ErrInvariant)
	ErrDiscountForbidden  = fmt.Errorf("%w: discount above threshold requires an admin or manager", shared.ErrInvariant)
	ErrCancelForbidden    = fmt.Errorf("%w: order can only be cancelled from DRAFT, PENDING_PAYMENT or PAID", shared.ErrInvariant)
	ErrInvalidAmount      = fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	ErrNoItems            = fmt.Errorf("%w: order requires at least one item", shared.ErrValidation)
)

// InvalidTransitionError reports an illegal status move.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return shared.ErrInvariant }
