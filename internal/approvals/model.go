// Package approvals implements manager approval requests for discounts and
// credit overrides. Each request freezes a snapshot of the order and customer
// state at request time; decisions never rewrite it.
package approvals

import "time"

// Kind distinguishes the two request flavors.
type Kind string

const (
	KindDiscount       Kind = "discount"
	KindCreditOverride Kind = "credit_override"
)

// IsValid checks the kind is a known value.
func (k Kind) IsValid() bool { return k == KindDiscount || k == KindCreditOverride }

// Status is a request's decision state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Request is one approval request. Snapshot is immutable from creation on.
type Request struct {
	ID           int64          `json:"id"`
	Kind         Kind           `json:"kind"`
	OrderID      int64          `json:"order_id"`
	Status       Status         `json:"status"`
	Snapshot     map[string]any `json:"snapshot"`
	RequestedBy  int64          `json:"requested_by"`
	RequestedAt  time.Time      `json:"requested_at"`
	DecidedBy    *int64         `json:"decided_by,omitempty"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
	DecisionNote string         `json:"decision_note,omitempty"`
}
