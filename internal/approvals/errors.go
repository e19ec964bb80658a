package approvals

import (
	"fmt"

	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

var (
	// ErrNotFound indicates the request does not exist.
	ErrNotFound = fmt.Errorf("approval request: %w", shared.ErrNotFound)
	// ErrDecided indicates the request already carries a decision.
	ErrDecided = fmt.Errorf("%w: approval request was already decided", shared.ErrInvariant)
)
