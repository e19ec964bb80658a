package shared

import "context"

// Notification is a message for one user. Data carries structured context the
// client can link through (order id, job id, amounts).
type Notification struct {
	UserID  int64
	Kind    string
	Title   string
	Message string
	Data    map[string]any
}

// Notifier delivers notifications. Implementations are fire-and-forget from
// the workflow's point of view: a returned error is logged by the caller and
// never aborts the triggering transaction.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications. Used in tests and as a safe default.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(ctx context.Context, n Notification) error { return nil }
