package servicejobs

import (
	"fmt"

	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var (
	ErrNotFound      = fmt.Errorf("service job: %w", shared.ErrNotFound)
	ErrInvalidStatus = fmt.Errorf("%w: unknown job status", shared.ErrValidation)
)

// InvalidTransitionError reports an illegal status move.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal job transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return shared.ErrInvariant }
