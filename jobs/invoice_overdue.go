package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pressroom-erp/pressroom-erp/internal/invoices"
)

// InvoiceOverdueJob runs the periodic overdue sweep over issued invoices.
type InvoiceOverdueJob struct {
	Invoices *invoices.Service
	Logger   *slog.Logger
}

// NewInvoiceOverdueJob initialises the overdue sweep handler.
func NewInvoiceOverdueJob(service *invoices.Service, logger *slog.Logger) *InvoiceOverdueJob {
	return &InvoiceOverdueJob{Invoices: service, Logger: logger}
}

// Handle executes the sweep. The sweep itself is idempotent, so a retried
// task is harmless.
func (j *InvoiceOverdueJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Invoices == nil {
		return errors.New("invoice overdue sweep: handler not configured")
	}
	start := time.Now()
	n, err := j.Invoices.CheckOverdue(ctx)
	if err != nil {
		j.logger().Error("sweep failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("completed overdue sweep",
		slog.Int("flagged", n),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *InvoiceOverdueJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInvoiceOverdueSweep))
	}
	return slog.Default().With(slog.String("job", TaskInvoiceOverdueSweep))
}
