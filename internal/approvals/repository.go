package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressroom-erp/pressroom-erp/internal/platform/db"
)

const requestColumns = `id, kind, order_id, status, snapshot, requested_by, requested_at,
decided_by, decided_at, decision_note`

// Repository provides PostgreSQL backed persistence for approval requests.
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

func (r *Repository) GetRequest(ctx context.Context, id int64) (*Request, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id)
	return scanRequest(row)
}

// ListRequests returns requests filtered by status and kind, newest first.
func (r *Repository) ListRequests(ctx context.Context, status Status, kind Kind, limit, offset int) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests`
	args := []interface{}{}
	var where []string
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if kind != "" {
		args = append(args, kind)
		where = append(where, fmt.Sprintf(`kind = $%d`, len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}
	query += fmt.Sprintf(` ORDER BY requested_at DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// TxStore exposes transactional operations on approval requests.
type TxStore interface {
	GetRequestForUpdate(ctx context.Context, id int64) (*Request, error)
	CreateRequest(ctx context.Context, req Request) (int64, error)
	Decide(ctx context.Context, id int64, status Status, decidedBy int64, note string, now time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetRequestForUpdate(ctx context.Context, id int64) (*Request, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1 FOR UPDATE`, id)
	return scanRequest(row)
}

func (t *txRepo) CreateRequest(ctx context.Context, req Request) (int64, error) {
	snapshot, err := json.Marshal(req.Snapshot)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO approval_requests (kind, order_id, status, snapshot, requested_by, requested_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		req.Kind, req.OrderID, req.Status, snapshot, req.RequestedBy, req.RequestedAt).Scan(&id)
	return id, err
}

func (t *txRepo) Decide(ctx context.Context, id int64, status Status, decidedBy int64, note string, now time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE approval_requests SET status = $2, decided_by = $3, decided_at = $4, decision_note = $5
WHERE id = $1`, id, status, decidedBy, now, note)
	return err
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var snapshot []byte
	err := row.Scan(&req.ID, &req.Kind, &req.OrderID, &req.Status, &snapshot, &req.RequestedBy,
		&req.RequestedAt, &req.DecidedBy, &req.DecidedAt, &req.DecisionNote)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &req.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	return &req, nil
}
