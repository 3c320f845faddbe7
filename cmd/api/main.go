package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oklog/ulid/v2"

	"github.com/skyfield-eats/api/internal/handlers"
	"github.com/skyfield-eats/api/internal/platform/auth"
	"github.com/skyfield-eats/api/internal/platform/config"
	"github.com/skyfield-eats/api/internal/platform/events"
	"github.com/skyfield-eats/api/internal/platform/idempotency"
	"github.com/skyfield-eats/api/internal/platform/observability"
	"github.com/skyfield-eats/api/internal/repositories/gormstore"
	"github.com/skyfield-eats/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := gormstore.Open(ctx, gormstore.Options{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	if err := gormstore.Migrate(db); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	registry, err := gormstore.NewRegistry(db)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("registry close error", zap.Error(err))
		}
	}()

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal("failed to initialise token verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier)

	eventPublisher, err := events.NewLogOrderEventPublisher(logger.Named("events"))
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         registry.Orders(),
		OrderDetails:   registry.OrderDetails(),
		Carts:          registry.ShoppingCarts(),
		Addresses:      registry.AddressBooks(),
		Counters:       registry.Counters(),
		UnitOfWork:     registry,
		Clock:          time.Now,
		IDGenerator:    func() string { return ulid.Make().String() },
		Events:         eventPublisher,
		Logger:         observability.ServiceLogFunc(logger.Named("orders")),
		DeliveryFee:    cfg.Orders.DeliveryFee,
		PackFeePerItem: cfg.Orders.PackFeePerItem,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	systemService, err := services.NewSystemService(registry.Health())
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	reconciler, err := services.NewOrderReconciler(services.ReconcilerDeps{
		Orders:           registry.Orders(),
		Clock:            time.Now,
		Events:           eventPublisher,
		Logger:           observability.ServiceLogFunc(logger.Named("reconciler")),
		UnpaidGrace:      cfg.Sweeps.UnpaidGrace,
		StuckDeliveryAge: cfg.Sweeps.StuckDeliveryAge,
		BatchSize:        cfg.Sweeps.BatchSize,
	})
	if err != nil {
		logger.Fatal("failed to initialise order reconciler", zap.Error(err))
	}

	runner, err := services.NewReconcilerRunner(services.ReconcilerRunnerDeps{
		Reconciler:     reconciler,
		Clock:          time.Now,
		Logger:         observability.ServiceLogFunc(logger.Named("reconciler")),
		UnpaidInterval: cfg.Sweeps.UnpaidInterval,
		StuckInterval:  cfg.Sweeps.StuckInterval,
	})
	if err != nil {
		logger.Fatal("failed to initialise reconciler runner", zap.Error(err))
	}

	runnerCtx, runnerCancel := context.WithCancel(context.Background())
	var runnerWG sync.WaitGroup
	runnerWG.Add(1)
	go func() {
		defer runnerWG.Done()
		runner.Run(observability.WithLogger(runnerCtx, logger.Named("reconciler")))
	}()

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(systemService),
		handlers.WithHealthStartedAt(startedAt),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, orderService)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(orderService)

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}

	if secret := strings.TrimSpace(cfg.Auth.WebhookSecret); secret != "" {
		webhookLog := zap.NewStdLog(logger.Named("webhooks"))
		validator, err := auth.NewHMACValidator(secret, auth.NewInMemoryNonceStore(), auth.WithHMACLogger(webhookLog))
		if err != nil {
			logger.Fatal("failed to initialise webhook signature validator", zap.Error(err))
		}
		routerOpts = append(routerOpts, handlers.WithWebhookMiddlewares(
			validator.RequireSignature(),
			idempotency.Middleware(idempotency.NewMemoryStore(),
				idempotency.WithMethods(http.MethodPost),
				idempotency.WithLogger(webhookLog),
			),
		))
	}

	router := handlers.NewRouter(routerOpts...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("skyfield-eats api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	runnerCancel()
	runnerWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
