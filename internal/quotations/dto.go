package quotations

import "time"

// ItemRequest is one requested quotation line.
type ItemRequest struct {
	ProductID int64    `json:"product_id" validate:"required,gt=0"`
	Quantity  float64  `json:"quantity" validate:"required,gt=0"`
	Width     *float64 `json:"width" validate:"omitempty,gt=0"`
	Height    *float64 `json:"height" validate:"omitempty,gt=0"`
	Notes     string   `json:"notes"`
}

// CreateRequest is the JSON body for quotation creation.
type CreateRequest struct {
	CustomerID *int64        `json:"customer_id" validate:"omitempty,gt=0"`
	Notes      string        `json:"notes"`
	ValidUntil *time.Time    `json:"valid_until"`
	Items      []ItemRequest `json:"items" validate:"dive"`
}

// UpdateRequest is the JSON body for header edits. Absent fields are left
// unchanged; clear_customer detaches the customer entirely.
type UpdateRequest struct {
	CustomerID    *int64     `json:"customer_id" validate:"omitempty,gt=0"`
	ClearCustomer bool       `json:"clear_customer"`
	Notes         *string    `json:"notes"`
	ValidUntil    *time.Time `json:"valid_until"`
	Discount      *float64   `json:"discount" validate:"omitempty,gte=0"`
}

// ConvertRequest is the JSON body for conversion into an order.
type ConvertRequest struct {
	Type           *string `json:"type"`
	PaymentTerms   *string `json:"payment_terms"`
	OverrideReason string  `json:"override_reason"`
}
