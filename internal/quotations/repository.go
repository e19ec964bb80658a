package quotations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/platform/db"
)

const quotationColumns = `id, number, customer_id, status, subtotal, discount, tax, total,
notes, valid_until, converted_order_id, created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for quotations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *Repository) GetQuotation(ctx context.Context, id int64) (*Quotation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id)
	q, err := scanQuotation(row)
	if err != nil {
		return nil, err
	}
	q.Items, err = listItems(ctx, r.pool, id)
	return q, err
}

// ListQuotations returns quotations filtered by status and customer, newest
// first.
func (r *Repository) ListQuotations(ctx context.Context, status Status, customerID *int64, limit, offset int) ([]Quotation, error) {
	query := `SELECT ` + quotationColumns + ` FROM quotations`
	args := []interface{}{}
	var where []string
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if customerID != nil {
		args = append(args, *customerID)
		where = append(where, fmt.Sprintf(`customer_id = $%d`, len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quotes []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, rows.Err()
}

// ExpireStale flags quotations whose validity window passed. Converted and
// already-expired rows are untouched. Returns the number flagged.
func (r *Repository) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE quotations SET status = $1, updated_at = $2
WHERE status NOT IN ($1, $3) AND valid_until IS NOT NULL AND valid_until < $2`,
		StatusExpired, now, StatusConverted)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// TxStore exposes transactional operations on quotations.
type TxStore interface {
	GetQuotationForUpdate(ctx context.Context, id int64) (*Quotation, error)
	ListItems(ctx context.Context, quotationID int64) ([]Item, error)
	GetItem(ctx context.Context, quotationID, itemID int64) (*Item, error)
	CreateQuotation(ctx context.Context, q Quotation) (int64, error)
	CreateItem(ctx context.Context, it Item) (int64, error)
	UpdateItem(ctx context.Context, it *Item) error
	DeleteItem(ctx context.Context, quotationID, itemID int64) error
	UpdateHeader(ctx context.Context, q *Quotation) error
	UpdateTotals(ctx context.Context, q *Quotation) error
	UpdateStatus(ctx context.Context, id int64, status Status, now time.Time) error
	MarkConverted(ctx context.Context, id, orderID int64, now time.Time) error
	NextQuotationNumber(ctx context.Context, now time.Time) (string, error)
	GetCustomer(ctx context.Context, id int64) (*customers.Customer, error)
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetQuotationForUpdate(ctx context.Context, id int64) (*Quotation, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1 FOR UPDATE`, id)
	return scanQuotation(row)
}

func (t *txRepo) ListItems(ctx context.Context, quotationID int64) ([]Item, error) {
	return listItems(ctx, t.tx, quotationID)
}

func (t *txRepo) GetItem(ctx context.Context, quotationID, itemID int64) (*Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx, `SELECT id, quotation_id, product_id, quantity, width, height, unit_price, line_total, applied_rule_id, notes
FROM quotation_items WHERE quotation_id = $1 AND id = $2`, quotationID, itemID).Scan(
		&it.ID, &it.QuotationID, &it.ProductID, &it.Quantity, &it.Width, &it.Height,
		&it.UnitPrice, &it.LineTotal, &it.AppliedRuleID, &it.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quotation item: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (t *txRepo) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO quotations (number, customer_id, status, subtotal, discount, tax, total,
notes, valid_until, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11) RETURNING id`,
		q.Number, q.CustomerID, q.Status, q.Subtotal, q.Discount, q.Tax, q.Total,
		q.Notes, q.ValidUntil, q.CreatedBy, q.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) CreateItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO quotation_items (quotation_id, product_id, quantity, width, height, unit_price, line_total, applied_rule_id, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		it.QuotationID, it.ProductID, it.Quantity, it.Width, it.Height, it.UnitPrice,
		it.LineTotal, it.AppliedRuleID, it.Notes).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateItem(ctx context.Context, it *Item) error {
	_, err := t.tx.Exec(ctx, `UPDATE quotation_items SET quantity = $3, width = $4, height = $5,
unit_price = $6, line_total = $7, applied_rule_id = $8, notes = $9
WHERE quotation_id = $1 AND id = $2`,
		it.QuotationID, it.ID, it.Quantity, it.Width, it.Height, it.UnitPrice,
		it.LineTotal, it.AppliedRuleID, it.Notes)
	return err
}

func (t *txRepo) DeleteItem(ctx context.Context, quotationID, itemID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM quotation_items WHERE quotation_id = $1 AND id = $2`, quotationID, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quotation item: %w", ErrNotFound)
	}
	return nil
}

func (t *txRepo) UpdateHeader(ctx context.Context, q *Quotation) error {
	_, err := t.tx.Exec(ctx, `UPDATE quotations SET customer_id = $2, notes = $3, valid_until = $4, updated_at = $5
WHERE id = $1`, q.ID, q.CustomerID, q.Notes, q.ValidUntil, q.UpdatedAt)
	return err
}

func (t *txRepo) UpdateTotals(ctx context.Context, q *Quotation) error {
	_, err := t.tx.Exec(ctx, `UPDATE quotations SET subtotal = $2, discount = $3, tax = $4, total = $5, updated_at = $6
WHERE id = $1`, q.ID, q.Subtotal, q.Discount, q.Tax, q.Total, q.UpdatedAt)
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE quotations SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now)
	return err
}

func (t *txRepo) MarkConverted(ctx context.Context, id, orderID int64, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE quotations SET status = $2, converted_order_id = $3, updated_at = $4 WHERE id = $1`,
		id, StatusConverted, orderID, now)
	return err
}

func (t *txRepo) NextQuotationNumber(ctx context.Context, now time.Time) (string, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM quotations WHERE created_at >= date_trunc('month', $1::timestamptz)`, now).Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("QUO-%s-%04d", now.Format("0601"), count+1), nil
}

func (t *txRepo) GetCustomer(ctx context.Context, id int64) (*customers.Customer, error) {
	var c customers.Customer
	err := t.tx.QueryRow(ctx, `SELECT id, code, name, type, email, phone, credit_limit, credit_balance, credit_period_days, is_active, notes, created_at, updated_at
FROM customers WHERE id = $1`, id).Scan(&c.ID, &c.Code, &c.Name, &c.Type, &c.Email, &c.Phone,
		&c.CreditLimit, &c.CreditBalance, &c.CreditPeriodDays, &c.IsActive, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, customers.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listItems(ctx context.Context, q queryer, quotationID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, quotation_id, product_id, quantity, width, height, unit_price, line_total, applied_rule_id, notes
FROM quotation_items WHERE quotation_id = $1 ORDER BY id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.QuotationID, &it.ProductID, &it.Quantity, &it.Width, &it.Height,
			&it.UnitPrice, &it.LineTotal, &it.AppliedRuleID, &it.Notes); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	err := row.Scan(&q.ID, &q.Number, &q.CustomerID, &q.Status, &q.Subtotal, &q.Discount, &q.Tax, &q.Total,
		&q.Notes, &q.ValidUntil, &q.ConvertedOrderID, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}
