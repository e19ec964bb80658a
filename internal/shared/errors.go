// Package shared holds cross-cutting collaborators for the workflow services:
// clock, settings, audit, notifications, and the error taxonomy.
package shared

import "errors"

// Error categories. Domain packages wrap these with fmt.Errorf("%w: ...") so
// callers can classify any failure with errors.Is.
var (
	// ErrValidation indicates malformed or missing input. Caller's fault,
	// never retried.
	ErrValidation = errors.New("validation failed")
	// ErrInvariant indicates a business rule rejection: illegal transition,
	// duplicate invoice, unauthorized discount, release with balance due.
	// Always surfaced with a readable reason, never silently corrected.
	ErrInvariant = errors.New("invariant violation")
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
)

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// SideEffectFailure wraps an error from a best-effort side call (notification,
// audit, automatic job/invoice creation). It is logged by the caller and never
// rolls back the primary transaction.
type SideEffectFailure struct {
	Op  string
	Err error
}

func (e *SideEffectFailure) Error() string {
	return "side effect failed: " + e.Op + ": " + e.Err.Error()
}

func (e *SideEffectFailure) Unwrap() error { return e.Err }
