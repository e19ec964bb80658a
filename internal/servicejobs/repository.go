package servicejobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressroom-erp/pressroom-erp/internal/platform/db"
)

const jobColumns = `id, order_id, order_item_id, status, priority, assigned_to, rework_count,
last_rejection_reason, due_date, started_at, completed_at, delivered_at, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for jobs.
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

func (r *Repository) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM service_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListByOrder returns an order's jobs, oldest first.
func (r *Repository) ListByOrder(ctx context.Context, orderID int64) ([]Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM service_jobs WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// List returns jobs filtered by status and assignee.
func (r *Repository) List(ctx context.Context, status Status, assignedTo *int64, limit, offset int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM service_jobs WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if assignedTo != nil {
		args = append(args, *assignedTo)
		query += fmt.Sprintf(` AND assigned_to = $%d`, len(args))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ListHistory returns a job's status history, oldest first.
func (r *Repository) ListHistory(ctx context.Context, jobID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, job_id, from_status, to_status, actor_id, reason, changed_at
FROM service_job_history WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.From, &e.To, &e.ActorID, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TxStore exposes transactional operations.
type TxStore interface {
	GetJobForUpdate(ctx context.Context, id int64) (*Job, error)
	ListByOrderForUpdate(ctx context.Context, orderID int64) ([]Job, error)
	CreateJob(ctx context.Context, job Job) (int64, error)
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id int64) error
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	ListProductionItems(ctx context.Context, orderID int64) ([]ProductionItem, error)
	GetOrderState(ctx context.Context, orderID int64) (status string, dueDate *time.Time, err error)
	CountUnfinishedJobs(ctx context.Context, orderID int64) (int, error)
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetJobForUpdate(ctx context.Context, id int64) (*Job, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM service_jobs WHERE id = $1 FOR UPDATE`, id)
	return scanJob(row)
}

func (t *txRepo) ListByOrderForUpdate(ctx context.Context, orderID int64) ([]Job, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+jobColumns+` FROM service_jobs WHERE order_id = $1 ORDER BY id FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (t *txRepo) CreateJob(ctx context.Context, job Job) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO service_jobs (order_id, order_item_id, status, priority, assigned_to,
rework_count, last_rejection_reason, due_date, started_at, completed_at, delivered_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12) RETURNING id`,
		job.OrderID, job.OrderItemID, job.Status, job.Priority, job.AssignedTo, job.ReworkCount,
		job.LastRejectionReason, job.DueDate, job.StartedAt, job.CompletedAt, job.DeliveredAt, job.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateJob(ctx context.Context, job *Job) error {
	_, err := t.tx.Exec(ctx, `UPDATE service_jobs SET status = $2, priority = $3, assigned_to = $4, rework_count = $5,
last_rejection_reason = $6, due_date = $7, started_at = $8, completed_at = $9, delivered_at = $10, updated_at = $11
WHERE id = $1`,
		job.ID, job.Status, job.Priority, job.AssignedTo, job.ReworkCount, job.LastRejectionReason,
		job.DueDate, job.StartedAt, job.CompletedAt, job.DeliveredAt, job.UpdatedAt)
	return err
}

// DeleteJob removes the job row. History rows go with it via cascade.
func (t *txRepo) DeleteJob(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM service_jobs WHERE id = $1`, id)
	return err
}

func (t *txRepo) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO service_job_history (job_id, from_status, to_status, actor_id, reason, changed_at)
VALUES ($1, $2, $3, $4, $5, $6)`, entry.JobID, entry.From, entry.To, entry.ActorID, entry.Reason, entry.At)
	return err
}

func (t *txRepo) ListProductionItems(ctx context.Context, orderID int64) ([]ProductionItem, error) {
	rows, err := t.tx.Query(ctx, `SELECT oi.id, oi.product_id, p.type
FROM order_items oi JOIN products p ON p.id = oi.product_id
WHERE oi.order_id = $1 ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProductionItem
	for rows.Next() {
		var it ProductionItem
		if err := rows.Scan(&it.ItemID, &it.ProductID, &it.ProductType); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *txRepo) GetOrderState(ctx context.Context, orderID int64) (string, *time.Time, error) {
	var status string
	var dueDate *time.Time
	err := t.tx.QueryRow(ctx, `SELECT status, due_date FROM orders WHERE id = $1`, orderID).Scan(&status, &dueDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	return status, dueDate, err
}

func (t *txRepo) CountUnfinishedJobs(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM service_jobs WHERE order_id = $1 AND status NOT IN ($2, $3)`,
		orderID, StatusCompleted, StatusCancelled).Scan(&n)
	return n, err
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.OrderID, &j.OrderItemID, &j.Status, &j.Priority, &j.AssignedTo, &j.ReworkCount,
		&j.LastRejectionReason, &j.DueDate, &j.StartedAt, &j.CompletedAt, &j.DeliveredAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]Job, error) {
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
