package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs. OldValues/NewValues carry
// the before/after snapshot of whatever fields the action touched.
type AuditLog struct {
	ActorID   *int64
	Action    string
	Entity    string
	EntityID  int64
	OldValues map[string]any
	NewValues map[string]any
	At        time.Time
}

// AuditLogger writes records into audit_logs. Failures are reported to the
// caller, which logs them; an audit write never aborts a workflow transaction.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == 0 {
		return errors.New("audit log requires action/entity/entity_id")
	}
	oldJSON, err := json.Marshal(log.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newJSON, err := json.Marshal(log.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, old_values, new_values, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7, '0001-01-01 00:00:00+00'::timestamptz), NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, oldJSON, newJSON, log.At)
	return err
}
