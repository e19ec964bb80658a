package pricing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for pricing rules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListForProduct returns all rules for a product ordered by priority
// descending. Validity filtering happens in the engine against its clock.
func (r *Repository) ListForProduct(ctx context.Context, productID int64) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, rule_type, priority, valid_from, valid_until, config, created_at
FROM pricing_rules WHERE product_id = $1 ORDER BY priority DESC, id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		var rule Rule
		var config []byte
		if err := rows.Scan(&rule.ID, &rule.ProductID, &rule.Type, &rule.Priority,
			&rule.ValidFrom, &rule.ValidUntil, &config, &rule.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(config, &rule.Config); err != nil {
			return nil, fmt.Errorf("decode rule %d config: %w", rule.ID, err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Create inserts a pricing rule.
func (r *Repository) Create(ctx context.Context, rule Rule) (int64, error) {
	config, err := json.Marshal(rule.Config)
	if err != nil {
		return 0, fmt.Errorf("encode rule config: %w", err)
	}
	var id int64
	err = r.pool.QueryRow(ctx, `INSERT INTO pricing_rules (product_id, rule_type, priority, valid_from, valid_until, config, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING id`,
		rule.ProductID, rule.Type, rule.Priority, rule.ValidFrom, rule.ValidUntil, config).Scan(&id)
	return id, err
}

// Delete removes a pricing rule.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM pricing_rules WHERE id = $1`, id)
	return err
}
