// Package notify persists in-app notifications and hands delivery off to the
// background queue. It implements the Notifier interface the workflow
// services depend on; a failed write or enqueue is logged and never aborts
// the calling workflow.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// ErrNotFound indicates the notification does not exist.
var ErrNotFound = fmt.Errorf("notification: %w", shared.ErrNotFound)

// Notification is one stored in-app notification.
type Notification struct {
	ID        string         `json:"id"`
	UserID    int64          `json:"user_id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Enqueuer pushes delivery work onto the background queue. Satisfied by the
// jobs client; nil disables queued delivery and leaves notifications in-app
// only.
type Enqueuer interface {
	EnqueueNotificationDelivery(ctx context.Context, notificationID string) error
}

// Service stores notifications and implements shared.Notifier.
type Service struct {
	pool     *pgxpool.Pool
	enqueuer Enqueuer
	clock    shared.Clock
	logger   *slog.Logger
}

// NewService constructs the notification service. enqueuer may be nil.
func NewService(pool *pgxpool.Pool, enqueuer Enqueuer, clock shared.Clock, logger *slog.Logger) *Service {
	return &Service{pool: pool, enqueuer: enqueuer, clock: clock, logger: logger}
}

// Notify stores the notification and queues its delivery. Returns an error
// only when the row itself cannot be written; queue failures are logged.
func (s *Service) Notify(ctx context.Context, n shared.Notification) error {
	if n.UserID == 0 {
		return errors.New("notification requires a user")
	}
	id := uuid.NewString()
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	now := s.clock.Now()
	_, err = s.pool.Exec(ctx, `INSERT INTO notifications (id, user_id, kind, title, message, data, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, id, n.UserID, n.Kind, n.Title, n.Message, data, now)
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueNotificationDelivery(ctx, id); err != nil {
			s.logger.Warn("notification delivery enqueue failed",
				slog.String("notification_id", id), slog.Any("error", err))
		}
	}
	return nil
}

// ListForUser returns a user's notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, unreadOnly bool, p shared.Pagination) ([]Notification, error) {
	query := `SELECT id, user_id, kind, title, message, data, read_at, created_at
FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, p.PerPage, p.Offset())
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// Get returns one notification.
func (s *Service) Get(ctx context.Context, id string) (*Notification, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, user_id, kind, title, message, data, read_at, created_at
FROM notifications WHERE id = $1`, id)
	return scanNotification(row)
}

// MarkRead stamps a notification as read. Idempotent; re-reading keeps the
// original read time.
func (s *Service) MarkRead(ctx context.Context, id string, userID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, $3)
WHERE id = $1 AND user_id = $2`, id, userID, s.clock.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnreadCount returns the number of unread notifications for a user.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID).Scan(&n)
	return n, err
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var data []byte
	err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message, &data, &n.ReadAt, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification data: %w", err)
		}
	}
	return &n, nil
}
