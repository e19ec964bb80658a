package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// ErrNotFound indicates the customer does not exist.
var ErrNotFound = fmt.Errorf("customer: %w", shared.ErrNotFound)

const customerColumns = `id, code, name, type, email, phone, credit_limit, credit_balance, credit_period_days, is_active, notes, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for customers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Type, &c.Email, &c.Phone,
		&c.CreditLimit, &c.CreditBalance, &c.CreditPeriodDays, &c.IsActive,
		&c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Get fetches a customer by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

// List returns active customers ordered by name.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Customer, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers WHERE is_active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE is_active ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Type, &c.Email, &c.Phone,
			&c.CreditLimit, &c.CreditBalance, &c.CreditPeriodDays, &c.IsActive,
			&c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Create inserts a customer.
func (r *Repository) Create(ctx context.Context, c Customer) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO customers
(code, name, type, email, phone, credit_limit, credit_balance, credit_period_days, is_active, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()) RETURNING id`,
		c.Code, c.Name, c.Type, c.Email, c.Phone, c.CreditLimit, c.CreditBalance,
		c.CreditPeriodDays, c.IsActive, c.Notes).Scan(&id)
	return id, err
}
