// Package quotations implements the quotation lifecycle: priced line items,
// the draft/sent/approved flow, opportunistic expiry, and conversion into a
// production order.
package quotations

import "time"

// Status is a quotation's lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusApproved  Status = "APPROVED"
	StatusExpired   Status = "EXPIRED"
	StatusConverted Status = "CONVERTED"
)

// IsValid checks status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusApproved, StatusExpired, StatusConverted:
		return true
	}
	return false
}

// Editable reports whether items and header fields may still change.
func (s Status) Editable() bool { return s == StatusDraft || s == StatusSent }

// Quotation carries priced lines but no payment state; money only starts
// moving once it converts into an order.
type Quotation struct {
	ID               int64      `json:"id"`
	Number           string     `json:"number"`
	CustomerID       *int64     `json:"customer_id,omitempty"`
	Status           Status     `json:"status"`
	Subtotal         float64    `json:"subtotal"`
	Discount         float64    `json:"discount"`
	Tax              float64    `json:"tax"`
	Total            float64    `json:"total"`
	Notes            string     `json:"notes,omitempty"`
	ValidUntil       *time.Time `json:"valid_until,omitempty"`
	ConvertedOrderID *int64     `json:"converted_order_id,omitempty"`
	CreatedBy        int64      `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Items []Item `json:"items,omitempty"`
}

// Expired reports whether the validity window has passed. Quotations without
// a valid_until never expire.
func (q *Quotation) Expired(now time.Time) bool {
	return q.ValidUntil != nil && q.ValidUntil.Before(now)
}

// Item is one priced line of a quotation.
type Item struct {
	ID            int64    `json:"id"`
	QuotationID   int64    `json:"quotation_id"`
	ProductID     int64    `json:"product_id"`
	Quantity      float64  `json:"quantity"`
	Width         *float64 `json:"width,omitempty"`
	Height        *float64 `json:"height,omitempty"`
	UnitPrice     float64  `json:"unit_price"`
	LineTotal     float64  `json:"line_total"`
	AppliedRuleID *int64   `json:"applied_rule_id,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}
