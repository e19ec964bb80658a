package products

import "time"

// Type determines how a line total is computed for the product.
type Type string

const (
	// TypeInventory is a stocked item priced per unit.
	TypeInventory Type = "inventory"
	// TypeService is labour or finishing work priced per unit.
	TypeService Type = "service"
	// TypeDimension is material priced per unit area (banners, boards).
	TypeDimension Type = "dimension"
)

// IsValid checks if the type is a known value.
func (t Type) IsValid() bool {
	switch t {
	case TypeInventory, TypeService, TypeDimension:
		return true
	default:
		return false
	}
}

// Product represents a sellable print-shop product. UnitCost is the pricing
// fallback when no rule matches.
type Product struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	UnitCost  float64   `json:"unit_cost"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequiresProduction reports whether an order item of this type spawns a
// service job. Stocked inventory is picked, not produced.
func (t Type) RequiresProduction() bool {
	return t == TypeService || t == TypeDimension
}

// RequiresProduction reports whether an order item for this product spawns a
// service job.
func (p *Product) RequiresProduction() bool {
	return p.Type.RequiresProduction()
}
