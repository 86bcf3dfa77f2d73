package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-pos/odyssey-pos/internal/app"
	"github.com/odyssey-pos/odyssey-pos/internal/billing"
	"github.com/odyssey-pos/odyssey-pos/internal/customization"
	"github.com/odyssey-pos/odyssey-pos/internal/floor"
	"github.com/odyssey-pos/odyssey-pos/internal/inventory"
	"github.com/odyssey-pos/odyssey-pos/internal/kitchen"
	"github.com/odyssey-pos/odyssey-pos/internal/masterdata/items"
	"github.com/odyssey-pos/odyssey-pos/internal/observability"
	"github.com/odyssey-pos/odyssey-pos/internal/platform/cache"
	"github.com/odyssey-pos/odyssey-pos/internal/platform/db"
	"github.com/odyssey-pos/odyssey-pos/internal/pos"
	"github.com/odyssey-pos/odyssey-pos/internal/pricing"
	"github.com/odyssey-pos/odyssey-pos/internal/rbac"
	"github.com/odyssey-pos/odyssey-pos/internal/realtime"
	"github.com/odyssey-pos/odyssey-pos/internal/settings"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
	"github.com/odyssey-pos/odyssey-pos/internal/variants"
	"github.com/odyssey-pos/odyssey-pos/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := shared.NewRedisLocker(redisClient, cfg.LockTTL)

	hub := realtime.NewHub(logger)
	go hub.Run(ctx)
	go func() {
		if err := realtime.Relay(ctx, redisClient, hub, logger); err != nil {
			logger.Error("realtime relay", slog.Any("error", err))
		}
	}()
	publisher := realtime.NewRedisPublisher(redisClient, metrics)

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	settingsStore := settings.NewStore(
		settings.NewRepository(dbpool),
		settings.NewCache(redisClient, cfg.SettingsCacheTTL),
		logger,
	)
	restaurant, err := settingsStore.Restaurant(ctx)
	if err != nil {
		logger.Warn("load restaurant settings", slog.Any("error", err))
	}

	itemRepo := items.NewRepository(dbpool)
	relay := jobs.NewMovementRelay(publisher, jobsClient, restaurant.DefaultBranch, logger)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), auditLogger, idempotencyStore, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
		Notifier:           relay,
		BOMs:               itemRepo,
		Items:              itemRepo,
		Logger:             logger,
	})

	floorRepo := floor.NewRepository(dbpool)
	floorService := floor.NewService(floorRepo, floor.NewQueueNumbers(redisClient), floor.ServiceConfig{
		Publisher: publisher,
		Audit:     auditLogger,
		Metrics:   metrics,
		Logger:    logger,
	})

	details := customization.NewResolver(customization.NewRepository(dbpool))
	kitchenService := kitchen.NewService(kitchen.NewRepository(dbpool), itemRepo, kitchen.ServiceConfig{
		DefaultStation: restaurant.DefaultStation,
		Details:        details,
		Publisher:      publisher,
		Metrics:        metrics,
		Locker:         locker,
		Logger:         logger,
	})

	billingService := billing.NewService(billing.Deps{
		Orders:     floorRepo,
		Items:      itemRepo,
		Invoices:   billing.NewRepository(dbpool),
		Stock:      inventoryService,
		Tx:         db.NewTxRunner(dbpool),
		Settings:   settingsStore,
		Customizer: details,
		Totals:     billing.NewTaxCalculator(itemRepo),
		Sessions:   billing.NewOpeningEntries(dbpool),
		Locker:     locker,
		Publisher:  publisher,
		Fallback:   jobsClient,
		Metrics:    metrics,
		Audit:      auditLogger,
		Logger:     logger,
		Tolerance:  cfg.Tolerance(),
	})

	rbacService := rbac.NewService(rbac.NewPgStore(dbpool))
	if err := rbacService.EnsurePermissions(ctx, shared.POSScopes()); err != nil {
		logger.Warn("seed pos permissions", slog.Any("error", err))
	}

	posHandler := pos.NewHandler(pos.Deps{
		Floor:    floorService,
		Variants: variants.NewService(itemRepo, floorService),
		Billing:  billingService,
		Kitchen:  kitchenService,
		Stock:    inventoryService,
		Pricing:  pricing.NewResolver(pricing.NewRepository(dbpool), cfg.DefaultCurrency),
		Settings: settingsStore,
		RBAC:     rbac.Middleware{Service: rbacService, Logger: logger},
		Realtime: realtime.Handler(hub, app.OriginChecker(cfg)),
		Logger:   logger,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		POSHandler: posHandler,
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    metrics,
		Ready: func(r *http.Request) error {
			if err := dbpool.Ping(r.Context()); err != nil {
				return err
			}
			return redisClient.Ping(r.Context()).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
