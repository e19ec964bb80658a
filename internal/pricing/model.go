// Package pricing resolves unit prices for products from prioritised rules.
package pricing

import "time"

// RuleType selects the resolver for a pricing rule.
type RuleType string

const (
	// RuleCustomerSpecific prices one customer's negotiated rate.
	RuleCustomerSpecific RuleType = "customer_specific"
	// RuleDimension prices per unit area for dimension products.
	RuleDimension RuleType = "dimension"
	// RuleQuantityTier prices by quantity bracket.
	RuleQuantityTier RuleType = "quantity_tier"
	// RuleFixed prices unconditionally.
	RuleFixed RuleType = "fixed"
)

// Tier is one bracket of a quantity_tier rule. A nil MaxQty means unbounded.
type Tier struct {
	MinQty float64  `json:"min_qty"`
	MaxQty *float64 `json:"max_qty"`
	Price  float64  `json:"price"`
}

// RuleConfig is the variant payload of a rule; which fields are meaningful
// depends on the rule type. Stored as JSONB.
type RuleConfig struct {
	CustomerID *int64   `json:"customer_id,omitempty"`
	Price      *float64 `json:"price,omitempty"`
	BasePrice  *float64 `json:"base_price,omitempty"`
	MinSize    *float64 `json:"min_size,omitempty"`
	Tiers      []Tier   `json:"tiers,omitempty"`
}

// Rule is a per-product pricing rule. Rules are evaluated in descending
// priority order; the first resolver returning a price wins.
type Rule struct {
	ID         int64      `json:"id"`
	ProductID  int64      `json:"product_id"`
	Type       RuleType   `json:"rule_type"`
	Priority   int        `json:"priority"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	Config     RuleConfig `json:"config"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ActiveAt reports whether the rule's validity window covers the instant.
// Either bound may be open.
func (r *Rule) ActiveAt(at time.Time) bool {
	if r.ValidFrom != nil && at.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && at.After(*r.ValidUntil) {
		return false
	}
	return true
}
