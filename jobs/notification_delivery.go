package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/pressroom-erp/pressroom-erp/internal/notify"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
)

// NotificationDeliveryJob fans a stored notification out to its delivery
// channels. In-app storage already happened synchronously; this handler
// covers the outbound side.
type NotificationDeliveryJob struct {
	Notifications *notify.Service
	Logger        *slog.Logger
}

// NewNotificationDeliveryJob initialises the delivery handler.
func NewNotificationDeliveryJob(notifications *notify.Service, logger *slog.Logger) *NotificationDeliveryJob {
	return &NotificationDeliveryJob{Notifications: notifications, Logger: logger}
}

// Handle executes the delivery.
func (j *NotificationDeliveryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Notifications == nil {
		return errors.New("notification delivery: handler not configured")
	}
	var payload NotificationDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	n, err := j.Notifications.Get(ctx, payload.NotificationID)
	if err != nil {
		if shared.IsNotFound(err) {
			// Deleted before delivery; nothing left to do.
			return nil
		}
		return err
	}
	// Placeholder for email/webhook channels; in-app delivery is the row
	// itself.
	j.logger().Info("notification delivered",
		slog.String("notification_id", n.ID),
		slog.Int64("user_id", n.UserID),
		slog.String("kind", n.Kind),
	)
	return nil
}

func (j *NotificationDeliveryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskNotificationDeliver))
	}
	return slog.Default().With(slog.String("job", TaskNotificationDeliver))
}
