package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/expensa/invoice-genie/api/routes"
	"github.com/expensa/invoice-genie/internal/accounts"
	"github.com/expensa/invoice-genie/internal/entitlements"
	"github.com/expensa/invoice-genie/internal/usage"
	stripewebhook "github.com/expensa/invoice-genie/internal/webhooks/stripe"
	"github.com/expensa/invoice-genie/pkg/config"
	"github.com/expensa/invoice-genie/pkg/db"
	"github.com/expensa/invoice-genie/pkg/instance"
	"github.com/expensa/invoice-genie/pkg/logger"
	"github.com/expensa/invoice-genie/pkg/metrics"
	"github.com/expensa/invoice-genie/pkg/migrate"
	"github.com/expensa/invoice-genie/pkg/redis"
	"github.com/expensa/invoice-genie/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		var closeErr error
		for i := len(closers) - 1; i >= 0; i-- {
			closeErr = multierr.Append(closeErr, closers[i]())
		}
		if closeErr != nil {
			logg.Error(context.Background(), "error closing resources", closeErr)
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	requireResource(logg, "database", err)
	closers = append(closers, dbClient.Close)

	requireResource(logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	var (
		redisPinger redis.Pinger
		guard       *stripewebhook.DeliveryGuard
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		requireResource(logg, "redis", err)
		closers = append(closers, redisClient.Close)
		redisPinger = redisClient

		guard, err = stripewebhook.NewDeliveryGuard(redisClient, cfg.Webhooks.IdempotencyTTL)
		requireResource(logg, "webhook delivery guard", err)
	} else {
		logg.Warn(ctx, "redis not configured; webhook redeliveries rely on idempotent writes")
	}

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	requireResource(logg, "stripe client", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	serviceMetrics := metrics.New(registry)

	accountsRepo := accounts.NewRepository(dbClient.DB())

	entitlementService, err := entitlements.NewService(entitlements.ServiceParams{
		Repo:              entitlements.NewRepository(dbClient.DB()),
		AccountsRepo:      accountsRepo,
		Plans:             entitlements.NewPlanCatalog(cfg.Stripe),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	requireResource(logg, "entitlement service", err)

	usageService, err := usage.NewService(usage.ServiceParams{
		Repo:            usage.NewRepository(dbClient.DB()),
		Entitlements:    entitlementService,
		Logger:          logg,
		Metrics:         serviceMetrics,
		AtomicIncrement: cfg.FeatureFlags.HardenedUsageIncrement,
	})
	requireResource(logg, "usage service", err)

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Entitlements: entitlementService,
		Accounts:     accountsRepo,
		Customers:    stripeClient,
		Guard:        guard,
		Logger:       logg,
		Metrics:      serviceMetrics,
	})
	requireResource(logg, "stripe webhook service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":             cfg.App.Env,
		"addr":            addr,
		"instance":        instance.GetID(),
		"stripe_env":      stripeClient.Environment(),
		"customer_lookup": stripeClient.CanLookupCustomers(),
		"atomic_usage":    cfg.FeatureFlags.HardenedUsageIncrement,
		"delivery_guard":  guard != nil,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisPinger,
			registry,
			serviceMetrics,
			usageService,
			stripeClient,
			webhookService,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		logg.Info(context.Background(), "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(context.Background(), "graceful shutdown failed", err)
		}
	}
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "resource not working: "+resource, err)
	os.Exit(1)
}
