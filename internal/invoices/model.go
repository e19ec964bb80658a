// Package invoices implements the invoice lifecycle: creation from orders,
// draft review, payment recording, and overdue sweeps.
package invoices

import "time"

// Status represents the invoice lifecycle.
type Status string

const (
	// StatusDraft awaits manual review; it has not touched customer credit.
	StatusDraft Status = "DRAFT"
	// StatusIssued is approved and outstanding.
	StatusIssued Status = "ISSUED"
	// StatusPartial has some but not all of its total paid.
	StatusPartial Status = "PARTIAL"
	// StatusPaid is settled in full.
	StatusPaid Status = "PAID"
	// StatusOverdue is unpaid past its due date.
	StatusOverdue Status = "OVERDUE"
)

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCredit       PaymentMethod = "credit"
)

// IsValid checks if the method is a known value.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodCash, MethodCard, MethodBankTransfer, MethodCredit:
		return true
	default:
		return false
	}
}

// ItemOverride adjusts one order item's pricing on a draft invoice.
// DiscountType is "percentage" (of the overridden line) or "fixed".
type ItemOverride struct {
	UnitPrice     float64 `json:"unit_price"`
	DiscountType  string  `json:"discount_type,omitempty"`
	DiscountValue float64 `json:"discount_value,omitempty"`
}

// Invoice bills an order. At most one invoice exists per order.
type Invoice struct {
	ID            int64                  `json:"id"`
	Number        string                 `json:"number"`
	OrderID       int64                  `json:"order_id"`
	CustomerID    *int64                 `json:"customer_id,omitempty"`
	Status        Status                 `json:"status"`
	Subtotal      float64                `json:"subtotal"`
	Discount      float64                `json:"discount"`
	Tax           float64                `json:"tax"`
	Total         float64                `json:"total"`
	PaidAmount    float64                `json:"paid_amount"`
	Balance       float64                `json:"balance"`
	IssueDate     *time.Time             `json:"issue_date,omitempty"`
	DueDate       time.Time              `json:"due_date"`
	ItemOverrides map[int64]ItemOverride `json:"item_overrides,omitempty"`
	CreatedBy     int64                  `json:"created_by"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Payment is an immutable record of money received, tied to an order and/or
// an invoice.
type Payment struct {
	ID              int64         `json:"id"`
	Number          string        `json:"number"`
	InvoiceID       *int64        `json:"invoice_id,omitempty"`
	OrderID         *int64        `json:"order_id,omitempty"`
	Amount          float64       `json:"amount"`
	Method          PaymentMethod `json:"method"`
	ReferenceNumber *string       `json:"reference_number,omitempty"`
	PaymentDate     time.Time     `json:"payment_date"`
	ReceivedBy      int64         `json:"received_by"`
	CreatedAt       time.Time     `json:"created_at"`
}

// OrderSummary is the slice of an order the invoice workflow reads.
type OrderSummary struct {
	ID           int64
	CustomerID   *int64
	Type         string
	PaymentTerms string
	Status       string
	Subtotal     float64
	Discount     float64
	Tax          float64
	Total        float64
	PaidAmount   float64
	Balance      float64
}

// OrderItemView is an order item as seen when composing an invoice.
// JobCancelled marks items whose production job was cancelled; those lines
// represent undelivered work and are excluded from invoice totals.
type OrderItemView struct {
	ID           int64
	ProductID    int64
	Quantity     float64
	Width        *float64
	Height       *float64
	UnitPrice    float64
	LineTotal    float64
	JobCancelled bool
}
