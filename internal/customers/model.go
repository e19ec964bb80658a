package customers

import "time"

// Type classifies how a customer pays.
type Type string

const (
	// TypeWalkIn pays at the counter, no account kept.
	TypeWalkIn Type = "walk_in"
	// TypeRegular has an account but no credit line.
	TypeRegular Type = "regular"
	// TypeCredit buys on account against a credit limit.
	TypeCredit Type = "credit"
)

// IsValid checks if the type is a known value.
func (t Type) IsValid() bool {
	switch t {
	case TypeWalkIn, TypeRegular, TypeCredit:
		return true
	default:
		return false
	}
}

// Customer is a print-shop account. CreditBalance is mutated only by invoice
// issuance/approval and payment recording, and never goes below zero.
type Customer struct {
	ID               int64     `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Type             Type      `json:"type"`
	Email            *string   `json:"email,omitempty"`
	Phone            *string   `json:"phone,omitempty"`
	CreditLimit      float64   `json:"credit_limit"`
	CreditBalance    float64   `json:"credit_balance"`
	CreditPeriodDays int       `json:"credit_period_days"`
	IsActive         bool      `json:"is_active"`
	Notes            *string   `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AvailableCredit returns the remaining credit headroom.
func (c *Customer) AvailableCredit() float64 {
	return c.CreditLimit - c.CreditBalance
}
