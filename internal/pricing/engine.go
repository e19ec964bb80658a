package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pressroom-erp/pressroom-erp/internal/products"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// ProductStore fetches products for pricing.
type ProductStore interface {
	Get(ctx context.Context, id int64) (*products.Product, error)
}

// RuleStore fetches pricing rules for a product.
type RuleStore interface {
	ListForProduct(ctx context.Context, productID int64) ([]Rule, error)
}

// Query describes one line to price.
type Query struct {
	ProductID  int64
	Quantity   float64
	Width      *float64
	Height     *float64
	CustomerID *int64
}

// Result is the priced outcome for a query.
type Result struct {
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
	// AppliedRuleID is nil when the product's unit cost was used as fallback.
	AppliedRuleID *int64 `json:"applied_rule_id,omitempty"`
	// MinimumCharge is the informational floored-area charge for dimension
	// rules with a min_size. It does not affect UnitPrice or LineTotal.
	MinimumCharge float64 `json:"minimum_charge,omitempty"`
	// DimensionFallback is set when a dimension product was priced without
	// width/height and degraded to a plain per-unit total.
	DimensionFallback bool `json:"dimension_fallback,omitempty"`
}

// BatchItem pairs a query with its result. Skipped items had no product.
type BatchItem struct {
	Query   Query
	Result  Result
	Skipped bool
}

// Engine resolves unit prices and line totals.
type Engine struct {
	products ProductStore
	rules    RuleStore
	clock    shared.Clock
}

// NewEngine constructs an Engine.
func NewEngine(productStore ProductStore, ruleStore RuleStore, clock shared.Clock) *Engine {
	return &Engine{products: productStore, rules: ruleStore, clock: clock}
}

// Calculate resolves the unit price and line total for one query. Rules valid
// at the current instant are walked in descending priority; the first resolver
// returning a price wins and no further rules are considered. With no match
// the product's unit cost applies.
func (e *Engine) Calculate(ctx context.Context, q Query) (Result, error) {
	product, err := e.products.Get(ctx, q.ProductID)
	if err != nil {
		return Result{}, fmt.Errorf("get product: %w", err)
	}
	return e.calculateFor(ctx, product, q)
}

func (e *Engine) calculateFor(ctx context.Context, product *products.Product, q Query) (Result, error) {
	if q.Quantity <= 0 {
		return Result{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	rules, err := e.rules.ListForProduct(ctx, q.ProductID)
	if err != nil {
		return Result{}, fmt.Errorf("list pricing rules: %w", err)
	}

	now := e.clock.Now()
	active := rules[:0:0]
	for _, r := range rules {
		if r.ActiveAt(now) {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})

	var res Result
	res.UnitPrice = product.UnitCost
	for i := range active {
		price, minCharge := resolve(&active[i], q)
		if price == nil {
			continue
		}
		res.UnitPrice = *price
		res.MinimumCharge = minCharge
		id := active[i].ID
		res.AppliedRuleID = &id
		break
	}
	res.UnitPrice = shared.Round2(res.UnitPrice)

	if product.Type == products.TypeDimension {
		if q.Width != nil && q.Height != nil {
			res.LineTotal = shared.Round2(res.UnitPrice * *q.Width * *q.Height * q.Quantity)
		} else {
			res.LineTotal = shared.Round2(res.UnitPrice * q.Quantity)
			res.DimensionFallback = true
		}
	} else {
		res.LineTotal = shared.Round2(res.UnitPrice * q.Quantity)
	}
	return res, nil
}

// resolve returns the rule's price for the query, or nil when the rule does
// not apply. The second return is the informational minimum charge for
// dimension rules.
func resolve(r *Rule, q Query) (*float64, float64) {
	switch r.Type {
	case RuleCustomerSpecific:
		if q.CustomerID == nil || r.Config.CustomerID == nil || r.Config.Price == nil {
			return nil, 0
		}
		if *r.Config.CustomerID != *q.CustomerID {
			return nil, 0
		}
		return r.Config.Price, 0
	case RuleDimension:
		if q.Width == nil || q.Height == nil || r.Config.BasePrice == nil {
			return nil, 0
		}
		area := *q.Width * *q.Height
		floored := area
		if r.Config.MinSize != nil && floored < *r.Config.MinSize {
			floored = *r.Config.MinSize
		}
		// The floored charge is reported but the price stays per unit area.
		return r.Config.BasePrice, shared.Round2(*r.Config.BasePrice * floored)
	case RuleQuantityTier:
		for i := range r.Config.Tiers {
			t := &r.Config.Tiers[i]
			if q.Quantity < t.MinQty {
				continue
			}
			if t.MaxQty != nil && q.Quantity > *t.MaxQty {
				continue
			}
			return &t.Price, 0
		}
		return nil, 0
	case RuleFixed:
		return r.Config.Price, 0
	default:
		return nil, 0
	}
}

// BatchCalculate prices each query, skipping those whose product cannot be
// found. The batch itself never fails for a missing product.
func (e *Engine) BatchCalculate(ctx context.Context, queries []Query) ([]BatchItem, error) {
	items := make([]BatchItem, 0, len(queries))
	for _, q := range queries {
		product, err := e.products.Get(ctx, q.ProductID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				items = append(items, BatchItem{Query: q, Skipped: true})
				continue
			}
			return nil, fmt.Errorf("get product: %w", err)
		}
		res, err := e.calculateFor(ctx, product, q)
		if err != nil {
			return nil, err
		}
		items = append(items, BatchItem{Query: q, Result: res})
	}
	return items, nil
}
