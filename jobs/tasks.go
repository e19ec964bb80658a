package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotificationDeliver delivers one stored notification to its
	// outbound channels.
	TaskNotificationDeliver = "notify:deliver"
	// TaskInvoiceOverdueSweep flags unpaid invoices past their due date.
	TaskInvoiceOverdueSweep = "invoices:check_overdue"
	// TaskQuotationExpiry flags quotations past their validity window.
	TaskQuotationExpiry = "quotations:expire"
)

// NotificationDeliverPayload identifies the notification to deliver.
type NotificationDeliverPayload struct {
	NotificationID string `json:"notification_id"`
}

// NewNotificationDeliverTask constructs an Asynq task.
func NewNotificationDeliverTask(payload NotificationDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDeliver, data), nil
}

// NewInvoiceOverdueSweepTask constructs the overdue sweep task. The sweep
// carries no payload; it always scans the full invoice table.
func NewInvoiceOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskInvoiceOverdueSweep, nil)
}

// NewQuotationExpiryTask constructs the quotation expiry task.
func NewQuotationExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskQuotationExpiry, nil)
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueNotificationDelivery enqueues delivery of one stored notification.
func (c *Client) EnqueueNotificationDelivery(ctx context.Context, notificationID string) error {
	task, err := NewNotificationDeliverTask(NotificationDeliverPayload{NotificationID: notificationID})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
