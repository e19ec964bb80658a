// Package rbac resolves user roles for workflow gating (discount thresholds,
// approval rights).
package rbac

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Service resolves role membership.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// HasAnyRole reports whether the user holds at least one of the named roles.
func (s *Service) HasAnyRole(ctx context.Context, userID int64, roles ...string) (bool, error) {
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			normalized = append(normalized, r)
		}
	}
	if userID == 0 || len(normalized) == 0 {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM user_roles ur JOIN roles r ON ur.role_id = r.id
WHERE ur.user_id = $1 AND lower(r.name) = ANY($2))`, userID, normalized).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListUsersWithRole returns the user ids holding a role, used for escalation
// notifications (managers, admins).
func (s *Service) ListUsersWithRole(ctx context.Context, role string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT ur.user_id FROM user_roles ur
JOIN roles r ON ur.role_id = r.id WHERE lower(r.name) = lower($1) ORDER BY ur.user_id`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
