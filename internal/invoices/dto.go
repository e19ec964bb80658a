package invoices

// CreateFromOrderRequest is the JSON body for invoice creation.
type CreateFromOrderRequest struct {
	OrderID          int64 `json:"order_id" validate:"required,gt=0"`
	Issue            bool  `json:"issue"`
	CreditPeriodDays *int  `json:"credit_period_days" validate:"omitempty,gt=0"`
}

// RecordPaymentRequest is the JSON body for recording a payment.
type RecordPaymentRequest struct {
	Amount          float64 `json:"amount" validate:"required,gt=0"`
	Method          string  `json:"method" validate:"required"`
	ReferenceNumber *string `json:"reference_number"`
}

// UpdateDraftRequest edits a draft invoice. item_overrides keys are order
// item IDs.
type UpdateDraftRequest struct {
	Subtotal      *float64               `json:"subtotal" validate:"omitempty,gte=0"`
	Discount      *float64               `json:"discount" validate:"omitempty,gte=0"`
	Tax           *float64               `json:"tax" validate:"omitempty,gte=0"`
	ItemOverrides map[int64]ItemOverride `json:"item_overrides"`
}
