package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/platform/db"
)

const invoiceColumns = `id, number, order_id, customer_id, status, subtotal, discount, tax, total,
paid_amount, balance, issue_date, due_date, item_overrides, created_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for invoices and payments.
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

func (r *Repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

func (r *Repository) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID)
	return scanInvoice(row)
}

// ListInvoices returns invoices filtered by status, newest first.
func (r *Repository) ListInvoices(ctx context.Context, status Status, limit, offset int) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invs []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, *inv)
	}
	return invs, rows.Err()
}

// ListPayments returns payments recorded against an invoice, oldest first.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, invoice_id, order_id, amount, method, reference_number, payment_date, received_by, created_at
FROM payments WHERE invoice_id = $1 ORDER BY payment_date`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Number, &p.InvoiceID, &p.OrderID, &p.Amount, &p.Method,
			&p.ReferenceNumber, &p.PaymentDate, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// MarkOverdue flags unpaid, issued invoices past their due date. Drafts are
// left alone; they have not entered circulation. Returns the number flagged.
func (r *Repository) MarkOverdue(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET status = $1, updated_at = $2
WHERE status IN ($3, $4) AND due_date < $2`, StatusOverdue, now, StatusIssued, StatusPartial)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// TxStore exposes transactional operations. Implementations that read rows
// with ForUpdate semantics must only be used inside a transaction.
type TxStore interface {
	GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error)
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoiceAmounts(ctx context.Context, inv *Invoice) error
	UpdateInvoiceStatus(ctx context.Context, id int64, status Status, issueDate *time.Time, now time.Time) error
	NextInvoiceNumber(ctx context.Context, now time.Time) (string, error)
	NextPaymentNumber(ctx context.Context, now time.Time) (string, error)
	CreatePayment(ctx context.Context, p Payment) (int64, error)
	GetOrderForUpdate(ctx context.Context, orderID int64) (*OrderSummary, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]OrderItemView, error)
	UpdateOrderPayment(ctx context.Context, orderID int64, paid, balance float64, now time.Time) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status, note string, actorID int64, now time.Time) error
	GetCustomerForUpdate(ctx context.Context, id int64) (*customers.Customer, error)
	UpdateCustomerCredit(ctx context.Context, id int64, balance float64, now time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (*Invoice, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	return scanInvoice(row)
}

func (t *txRepo) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID)
	return scanInvoice(row)
}

func (t *txRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	overrides, err := marshalOverrides(inv.ItemOverrides)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO invoices (number, order_id, customer_id, status, subtotal, discount, tax, total,
paid_amount, balance, issue_date, due_date, item_overrides, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15) RETURNING id`,
		inv.Number, inv.OrderID, inv.CustomerID, inv.Status, inv.Subtotal, inv.Discount, inv.Tax, inv.Total,
		inv.PaidAmount, inv.Balance, inv.IssueDate, inv.DueDate, overrides, inv.CreatedBy, inv.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateInvoiceAmounts(ctx context.Context, inv *Invoice) error {
	overrides, err := marshalOverrides(inv.ItemOverrides)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `UPDATE invoices SET subtotal = $2, discount = $3, tax = $4, total = $5,
paid_amount = $6, balance = $7, status = $8, item_overrides = $9, updated_at = $10 WHERE id = $1`,
		inv.ID, inv.Subtotal, inv.Discount, inv.Tax, inv.Total, inv.PaidAmount, inv.Balance, inv.Status,
		overrides, inv.UpdatedAt)
	return err
}

func (t *txRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status Status, issueDate *time.Time, now time.Time) error {
	if issueDate != nil {
		_, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $2, issue_date = $3, updated_at = $4 WHERE id = $1`,
			id, status, issueDate, now)
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now)
	return err
}

func (t *txRepo) NextInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	return nextNumber(ctx, t.tx, "invoices", "INV", now)
}

func (t *txRepo) NextPaymentNumber(ctx context.Context, now time.Time) (string, error) {
	return nextNumber(ctx, t.tx, "payments", "PAY", now)
}

func (t *txRepo) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (number, invoice_id, order_id, amount, method, reference_number, payment_date, received_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		p.Number, p.InvoiceID, p.OrderID, p.Amount, p.Method, p.ReferenceNumber, p.PaymentDate, p.ReceivedBy, p.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, orderID int64) (*OrderSummary, error) {
	var o OrderSummary
	err := t.tx.QueryRow(ctx, `SELECT id, customer_id, type, payment_terms, status, subtotal, discount, tax, total, paid_amount, balance
FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&o.ID, &o.CustomerID, &o.Type, &o.PaymentTerms, &o.Status,
		&o.Subtotal, &o.Discount, &o.Tax, &o.Total, &o.PaidAmount, &o.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *txRepo) ListOrderItems(ctx context.Context, orderID int64) ([]OrderItemView, error) {
	rows, err := t.tx.Query(ctx, `SELECT oi.id, oi.product_id, oi.quantity, oi.width, oi.height, oi.unit_price, oi.line_total,
COALESCE(sj.status = 'CANCELLED', false)
FROM order_items oi
LEFT JOIN service_jobs sj ON sj.order_item_id = oi.id
WHERE oi.order_id = $1 ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItemView
	for rows.Next() {
		var it OrderItemView
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.Width, &it.Height, &it.UnitPrice,
			&it.LineTotal, &it.JobCancelled); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *txRepo) UpdateOrderPayment(ctx context.Context, orderID int64, paid, balance float64, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET paid_amount = $2, balance = $3, updated_at = $4 WHERE id = $1`,
		orderID, paid, balance, now)
	return err
}

func (t *txRepo) UpdateOrderStatus(ctx context.Context, orderID int64, status, note string, actorID int64, now time.Time) error {
	var previous string
	if err := t.tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&previous); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, orderID, status, now); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO order_status_history (order_id, from_status, to_status, note, changed_by, changed_at)
VALUES ($1, $2, $3, $4, $5, $6)`, orderID, previous, status, note, actorID, now)
	return err
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

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var overrides []byte
	err := row.Scan(&inv.ID, &inv.Number, &inv.OrderID, &inv.CustomerID, &inv.Status, &inv.Subtotal, &inv.Discount,
		&inv.Tax, &inv.Total, &inv.PaidAmount, &inv.Balance, &inv.IssueDate, &inv.DueDate, &overrides,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &inv.ItemOverrides); err != nil {
			return nil, fmt.Errorf("decode item overrides: %w", err)
		}
	}
	return &inv, nil
}

func marshalOverrides(m map[int64]ItemOverride) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func nextNumber(ctx context.Context, tx pgx.Tx, table, prefix string, now time.Time) (string, error) {
	var count int
	err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE created_at >= date_trunc('month', $1::timestamptz)`, table), now).Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, now.Format("0601"), count+1), nil
}
