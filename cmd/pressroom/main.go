package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/pressroom-erp/pressroom-erp/internal/app"
	"github.com/pressroom-erp/pressroom-erp/internal/approvals"
	"github.com/pressroom-erp/pressroom-erp/internal/customers"
	"github.com/pressroom-erp/pressroom-erp/internal/invoices"
	"github.com/pressroom-erp/pressroom-erp/internal/notify"
	"github.com/pressroom-erp/pressroom-erp/internal/orders"
	"github.com/pressroom-erp/pressroom-erp/internal/platform/cache"
	"github.com/pressroom-erp/pressroom-erp/internal/platform/db"
	"github.com/pressroom-erp/pressroom-erp/internal/pricing"
	"github.com/pressroom-erp/pressroom-erp/internal/products"
	"github.com/pressroom-erp/pressroom-erp/internal/quotations"
	"github.com/pressroom-erp/pressroom-erp/internal/rbac"
	"github.com/pressroom-erp/pressroom-erp/internal/servicejobs"
	"github.com/pressroom-erp/pressroom-erp/internal/shared"
	"github.com/pressroom-erp/pressroom-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	clock := shared.SystemClock{}
	validate := validator.New()

	settings := shared.NewSettings(shared.NewPGSettingsSource(pool), redisClient, 5*time.Minute, logger)
	auditLogger := shared.NewAuditLogger(pool)
	rbacService := rbac.NewService(pool)
	notifyService := notify.NewService(pool, jobsClient, clock, logger)

	customerRepo := customers.NewRepository(pool)
	productRepo := products.NewRepository(pool)
	ruleRepo := pricing.NewRepository(pool)
	pricer := pricing.NewEngine(productRepo, ruleRepo, clock)

	invoiceRepo := invoices.NewRepository(pool)
	invoiceService := invoices.NewService(invoiceRepo, settings, auditLogger, clock, notifyService, logger)

	orderRepo := orders.NewRepository(pool)
	orderService := orders.NewService(orderRepo, pricer, invoiceService, rbacService, settings,
		auditLogger, clock, notifyService, logger)

	jobRepo := servicejobs.NewRepository(pool)
	jobService := servicejobs.NewService(jobRepo, rbacService, clock, notifyService, logger)

	orderService.SetJobs(jobService)
	jobService.SetOrders(orderService)

	quotationRepo := quotations.NewRepository(pool)
	quotationService := quotations.NewService(quotationRepo, pricer, orderService, settings,
		auditLogger, clock, logger)

	approvalRepo := approvals.NewRepository(pool)
	approvalService := approvals.NewService(approvalRepo, orderService, customerRepo,
		clock, notifyService, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		OrdersHandler:        orders.NewHandler(logger, orderService, validate),
		InvoicesHandler:      invoices.NewHandler(logger, invoiceService, validate),
		QuotationsHandler:    quotations.NewHandler(logger, quotationService, validate),
		ServiceJobsHandler:   servicejobs.NewHandler(logger, jobService, validate),
		ApprovalsHandler:     approvals.NewHandler(logger, approvalService, validate),
		NotificationsHandler: notify.NewHandler(logger, notifyService),
		JobHandler:           jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
