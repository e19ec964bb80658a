package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pressroom-erp/pressroom-erp/internal/app"
	"github.com/pressroom-erp/pressroom-erp/internal/invoices"
	"github.com/pressroom-erp/pressroom-erp/internal/notify"
	"github.com/pressroom-erp/pressroom-erp/internal/platform/cache"
	"github.com/pressroom-erp/pressroom-erp/internal/platform/db"
	"github.com/pressroom-erp/pressroom-erp/internal/quotations"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
	"github.com/pressroom-erp/pressroom-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	clock := shared.SystemClock{}
	settings := shared.NewSettings(shared.NewPGSettingsSource(pool), redisClient, 5*time.Minute, logger)
	auditLogger := shared.NewAuditLogger(pool)

	// The worker delivers stored notifications itself, so its notify service
	// never enqueues.
	notifyService := notify.NewService(pool, nil, clock, logger)

	invoiceRepo := invoices.NewRepository(pool)
	invoiceService := invoices.NewService(invoiceRepo, settings, auditLogger, clock, notifyService, logger)

	// The expiry sweep never converts quotations, so the order workflow and
	// pricer stay unset here.
	quotationRepo := quotations.NewRepository(pool)
	quotationService := quotations.NewService(quotationRepo, nil, nil, settings, auditLogger, clock, logger)

	deliveryJob := jobs.NewNotificationDeliveryJob(notifyService, logger)
	overdueJob := jobs.NewInvoiceOverdueJob(invoiceService, logger)
	expiryJob := jobs.NewQuotationExpiryJob(quotationService, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskNotificationDeliver, Handler: deliveryJob.Handle},
			{Type: jobs.TaskInvoiceOverdueSweep, Handler: overdueJob.Handle},
			{Type: jobs.TaskQuotationExpiry, Handler: expiryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 1 * * *", Task: jobs.NewInvoiceOverdueSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: jobs.NewQuotationExpiryTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
