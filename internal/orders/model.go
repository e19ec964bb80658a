// Package orders implements the central order workflow: creation with priced
// items, the status state machine, discounts, payment recording, and customer
// credit effects.
package orders

import "time"

// Type distinguishes counter sales from invoiced orders.
type Type string

const (
	TypeWalkIn Type = "walk_in"
	// TypeQuotation behaves like walk_in everywhere; only invoice-type
	// orders for credit customers get the relaxed transition graph.
	TypeQuotation Type = "quotation"
	TypeInvoice   Type = "invoice"
)

// IsValid checks the order type is a known value.
func (t Type) IsValid() bool {
	return t == TypeWalkIn || t == TypeQuotation || t == TypeInvoice
}

// PaymentTerms controls when payment is expected.
type PaymentTerms string

const (
	TermsImmediate PaymentTerms = "immediate"
	TermsCredit30  PaymentTerms = "credit_30"
)

// IsValid checks the payment terms are a known value.
func (p PaymentTerms) IsValid() bool { return p == TermsImmediate || p == TermsCredit30 }

// Order is the central aggregate. CustomerID is nil for walk-in customers.
type Order struct {
	ID           int64        `json:"id"`
	Number       string       `json:"number"`
	CustomerID   *int64       `json:"customer_id,omitempty"`
	QuotationID  *int64       `json:"quotation_id,omitempty"`
	Type         Type         `json:"type"`
	PaymentTerms PaymentTerms `json:"payment_terms"`
	Status       Status       `json:"status"`
	Subtotal     float64      `json:"subtotal"`
	Discount     float64      `json:"discount"`
	Tax          float64      `json:"tax"`
	Total        float64      `json:"total"`
	PaidAmount   float64      `json:"paid_amount"`
	Balance      float64      `json:"balance"`
	Notes        string       `json:"notes,omitempty"`
	DueDate      *time.Time   `json:"due_date,omitempty"`
	CreatedBy    int64        `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	Items []Item `json:"items,omitempty"`
}

// Item is one priced line of an order.
type Item struct {
	ID            int64    `json:"id"`
	OrderID       int64    `json:"order_id"`
	ProductID     int64    `json:"product_id"`
	Quantity      float64  `json:"quantity"`
	Width         *float64 `json:"width,omitempty"`
	Height        *float64 `json:"height,omitempty"`
	UnitPrice     float64  `json:"unit_price"`
	LineTotal     float64  `json:"line_total"`
	AppliedRuleID *int64   `json:"applied_rule_id,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// HistoryEntry is one immutable status change record. ActorID is nil for
// system initiated changes.
type HistoryEntry struct {
	ID      int64     `json:"id"`
	OrderID int64     `json:"order_id"`
	From    *Status   `json:"from,omitempty"`
	To      Status    `json:"to"`
	Note    string    `json:"note,omitempty"`
	ActorID *int64    `json:"actor_id,omitempty"`
	At      time.Time `json:"at"`
}

// DiscountApprovalThresholdPercent is the discount share of subtotal above
// which an admin or manager actor is required.
const DiscountApprovalThresholdPercent = 15.0

// RequiresApprovalNote flags orders created past the customer's available
// credit; the approval workflow looks for orders carrying it.
const RequiresApprovalNote = "REQUIRES APPROVAL"
