package orders

import "time"

// ItemRequest is one requested order line in the create payload.
type ItemRequest struct {
	ProductID int64    `json:"product_id" validate:"required,gt=0"`
	Quantity  float64  `json:"quantity" validate:"required,gt=0"`
	Width     *float64 `json:"width" validate:"omitempty,gt=0"`
	Height    *float64 `json:"height" validate:"omitempty,gt=0"`
	UnitPrice *float64 `json:"unit_price" validate:"omitempty,gte=0"`
	Notes     string   `json:"notes"`
}

// CreateRequest is the JSON body for order creation.
type CreateRequest struct {
	CustomerID   *int64        `json:"customer_id" validate:"omitempty,gt=0"`
	Type         string        `json:"type" validate:"required"`
	PaymentTerms string        `json:"payment_terms" validate:"required"`
	Notes        string        `json:"notes"`
	DueDate      *time.Time    `json:"due_date"`
	Items        []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

// TransitionRequest is the JSON body for a status change.
type TransitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

// DiscountRequest is the JSON body for applying a discount.
type DiscountRequest struct {
	Amount float64 `json:"amount" validate:"gte=0"`
}

// PaymentRequest is the JSON body for recording a payment.
type PaymentRequest struct {
	Amount          float64 `json:"amount" validate:"required,gt=0"`
	Method          string  `json:"method" validate:"required"`
	ReferenceNumber *string `json:"reference_number"`
}

// CancelRequest is the JSON body for cancelling an order.
type CancelRequest struct {
	Reason string `json:"reason"`
}
