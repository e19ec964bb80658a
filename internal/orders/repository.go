package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/invoices"
	"github.com/pressroom-erp/pressroom-erp/internal/platform/db"
)

const orderColumns = `id, number, customer_id, quotation_id, type, payment_terms, status, subtotal, discount,
tax, total, paid_amount, balance, notes, due_date, created_by, created_at, updated_at`

// InvoiceSummary is the slice of an invoice the payment path mirrors onto.
type InvoiceSummary struct {
	ID         int64
	Total      float64
	PaidAmount float64
	Balance    float64
	Status     string
}

// Repository provides PostgreSQL backed persistence for orders.
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

func (r *Repository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	o.Items, err = listItems(ctx, r.pool, id)
	return o, err
}

// ListOrders returns orders filtered by status and customer, newest first.
func (r *Repository) ListOrders(ctx context.Context, status Status, customerID *int64, limit, offset int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if customerID != nil {
		args = append(args, *customerID)
		query += fmt.Sprintf(` AND customer_id = $%d`, len(args))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListHistory returns an order's status history, oldest first.
func (r *Repository) ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, from_status, to_status, note, changed_by, changed_at
FROM order_status_history WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var note *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.From, &e.To, &note, &e.ActorID, &e.At); err != nil {
			return nil, err
		}
		if note != nil {
			e.Note = *note
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListPayments returns payments recorded against an order, oldest first.
func (r *Repository) ListPayments(ctx context.Context, orderID int64) ([]invoices.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, invoice_id, order_id, amount, method, reference_number, payment_date, received_by, created_at
FROM payments WHERE order_id = $1 ORDER BY payment_date`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []invoices.Payment
	for rows.Next() {
		var p invoices.Payment
		if err := rows.Scan(&p.ID, &p.Number, &p.InvoiceID, &p.OrderID, &p.Amount, &p.Method,
			&p.ReferenceNumber, &p.PaymentDate, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// TxStore exposes transactional operations.
type TxStore interface {
	GetOrderForUpdate(ctx context.Context, id int64) (*Order, error)
	ListItems(ctx context.Context, orderID int64) ([]Item, error)
	CreateOrder(ctx context.Context, o Order) (int64, error)
	CreateItem(ctx context.Context, it Item) (int64, error)
	UpdateTotals(ctx context.Context, o *Order) error
	UpdateStatus(ctx context.Context, id int64, status Status, now time.Time) error
	AppendHistory(ctx context.Context, e HistoryEntry) error
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)
	NextPaymentNumber(ctx context.Context, now time.Time) (string, error)
	CreatePayment(ctx context.Context, p invoices.Payment) (int64, error)
	GetCustomerForUpdate(ctx context.Context, id int64) (*customers.Customer, error)
	UpdateCustomerCredit(ctx context.Context, id int64, balance float64, now time.Time) error
	CountUnfinishedJobs(ctx context.Context, orderID int64) (int, error)
	GetInvoiceForOrder(ctx context.Context, orderID int64) (*InvoiceSummary, error)
	UpdateInvoicePayment(ctx context.Context, id int64, paid, balance float64, status string, now time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (*Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	return scanOrder(row)
}

func (t *txRepo) ListItems(ctx context.Context, orderID int64) ([]Item, error) {
	return listItems(ctx, t.tx, orderID)
}

func (t *txRepo) CreateOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO orders (number, customer_id, quotation_id, type, payment_terms, status,
subtotal, discount, tax, total, paid_amount, balance, notes, due_date, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16) RETURNING id`,
		o.Number, o.CustomerID, o.QuotationID, o.Type, o.PaymentTerms, o.Status, o.Subtotal, o.Discount,
		o.Tax, o.Total, o.PaidAmount, o.Balance, o.Notes, o.DueDate, o.CreatedBy, o.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) CreateItem(ctx context.Context, it Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, quantity, width, height, unit_price, line_total, applied_rule_id, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		it.OrderID, it.ProductID, it.Quantity, it.Width, it.Height, it.UnitPrice, it.LineTotal, it.AppliedRuleID, it.Notes).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateTotals(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET subtotal = $2, discount = $3, tax = $4, total = $5,
paid_amount = $6, balance = $7, notes = $8, updated_at = $9 WHERE id = $1`,
		o.ID, o.Subtotal, o.Discount, o.Tax, o.Total, o.PaidAmount, o.Balance, o.Notes, o.UpdatedAt)
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now)
	return err
}

func (t *txRepo) AppendHistory(ctx context.Context, e HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_status_history (order_id, from_status, to_status, note, changed_by, changed_at)
VALUES ($1, $2, $3, $4, $5, $6)`, e.OrderID, e.From, e.To, e.Note, e.ActorID, e.At)
	return err
}

func (t *txRepo) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE created_at >= date_trunc('month', $1::timestamptz)`, now).Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%04d", now.Format("0601"), count+1), nil
}

func (t *txRepo) NextPaymentNumber(ctx context.Context, now time.Time) (string, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE created_at >= date_trunc('month', $1::timestamptz)`, now).Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PAY-%s-%04d", now.Format("0601"), count+1), nil
}

func (t *txRepo) CreatePayment(ctx context.Context, p invoices.Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (number, invoice_id, order_id, amount, method, reference_number, payment_date, received_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		p.Number, p.InvoiceID, p.OrderID, p.Amount, p.Method, p.ReferenceNumber, p.PaymentDate, p.ReceivedBy, p.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetCustomerForUpdate(ctx context.Context, id int64) (*customers.Customer, error) {
	var c customers.Customer
	err := t.tx.QueryRow(ctx, `SELECT id, code, name, type, email, phone, credit_limit, credit_balance, credit_period_days, is_active, notes, created_at, updated_at
FROM customers WHERE id = $1 FOR UPDATE`, id).Scan(&c.ID, &c.Code, &c.Name, &c.Type, &c.Email, &c.Phone,
		&c.CreditLimit, &c.CreditBalance, &c.CreditPeriodDays, &c.IsActive, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, customers.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *txRepo) UpdateCustomerCredit(ctx context.Context, id int64, balance float64, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE customers SET credit_balance = $2, updated_at = $3 WHERE id = $1`, id, balance, now)
	return err
}

func (t *txRepo) CountUnfinishedJobs(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM service_jobs WHERE order_id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')`, orderID).Scan(&n)
	return n, err
}

func (t *txRepo) GetInvoiceForOrder(ctx context.Context, orderID int64) (*InvoiceSummary, error) {
	var inv InvoiceSummary
	err := t.tx.QueryRow(ctx, `SELECT id, total, paid_amount, balance, status FROM invoices WHERE order_id = $1 FOR UPDATE`,
		orderID).Scan(&inv.ID, &inv.Total, &inv.PaidAmount, &inv.Balance, &inv.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, invoices.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (t *txRepo) UpdateInvoicePayment(ctx context.Context, id int64, paid, balance float64, status string, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET paid_amount = $2, balance = $3, status = $4, updated_at = $5 WHERE id = $1`,
		id, paid, balance, status, now)
	return err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listItems(ctx context.Context, q queryer, orderID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, width, height, unit_price, line_total, applied_rule_id, notes
FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		var notes *string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Width, &it.Height,
			&it.UnitPrice, &it.LineTotal, &it.AppliedRuleID, &notes); err != nil {
			return nil, err
		}
		if notes != nil {
			it.Notes = *notes
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var notes *string
	err := row.Scan(&o.ID, &o.Number, &o.CustomerID, &o.QuotationID, &o.Type, &o.PaymentTerms, &o.Status,
		&o.Subtotal, &o.Discount, &o.Tax, &o.Total, &o.PaidAmount, &o.Balance, &notes, &o.DueDate,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if notes != nil {
		o.Notes = *notes
	}
	return &o, nil
}
