package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pressroom-erp/pressroom-erp/internal/quotations"
)

// QuotationExpiryJob flags quotations whose validity window has lapsed.
// Reads already sweep opportunistically; the scheduled run keeps listings
// honest even on quiet days.
type QuotationExpiryJob struct {
	Quotations *quotations.Service
	Logger     *slog.Logger
}

// NewQuotationExpiryJob initialises the expiry handler.
func NewQuotationExpiryJob(service *quotations.Service, logger *slog.Logger) *QuotationExpiryJob {
	return &QuotationExpiryJob{Quotations: service, Logger: logger}
}

// Handle executes the expiry sweep.
func (j *QuotationExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Quotations == nil {
		return errors.New("quotation expiry: handler not configured")
	}
	start := time.Now()
	n, err := j.Quotations.ExpireQuotations(ctx)
	if err != nil {
		j.logger().Error("sweep failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("completed expiry sweep",
		slog.Int("expired", n),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *QuotationExpiryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskQuotationExpiry))
	}
	return slog.Default().With(slog.String("job", TaskQuotationExpiry))
}
