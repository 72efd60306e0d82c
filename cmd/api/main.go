package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dejobratic/storefront/internal/config"
	"github.com/dejobratic/storefront/internal/database"
	idemmemory "github.com/dejobratic/storefront/internal/idempotency/memory"
	idempostgres "github.com/dejobratic/storefront/internal/idempotency/postgres"
	idemredis "github.com/dejobratic/storefront/internal/idempotency/redis"
	"github.com/dejobratic/storefront/internal/kafka"
	"github.com/dejobratic/storefront/internal/orders/adapters"
	httpadapter "github.com/dejobratic/storefront/internal/orders/adapters/http"
	"github.com/dejobratic/storefront/internal/orders/adapters/memory"
	"github.com/dejobratic/storefront/internal/orders/adapters/paystack"
	orderspostgres "github.com/dejobratic/storefront/internal/orders/adapters/postgres"
	ordersredis "github.com/dejobratic/storefront/internal/orders/adapters/redis"
	ordersapp "github.com/dejobratic/storefront/internal/orders/app"
	"github.com/dejobratic/storefront/internal/orders/domain"
	ordersmetrics "github.com/dejobratic/storefront/internal/orders/metrics"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/dejobratic/storefront/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to read .env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		slog.Error("failed to parse log level", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, level,
		slog.String("service", cfg.Service.Name),
		slog.String("version", cfg.Service.Version),
		slog.String("environment", cfg.Service.Environment),
	)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tel, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		Insecure:       cfg.Telemetry.OTelInsecure,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	meter := tel.Meter(cfg.Service.Name)
	serviceMetrics, err := ordersmetrics.NewMetrics(meter)
	if err != nil {
		return err
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return err
	}
	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return err
	}
	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return err
	}

	readiness := map[string]httpadapter.ReadinessCheck{}

	var (
		ledger ports.Ledger
		pool   *pgxpool.Pool
	)
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory ledger; data is lost on restart")
		ledger = memory.NewLedger()
	default:
		pool, err = database.NewPool(ctx, database.PoolConfig{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		if cfg.Database.AutoMigrate {
			logger.Info("running database migrations", "path", cfg.Database.MigrationsPath)
			version, err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath)
			if err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			logger.Info("migrations completed successfully", "version", version)
		}

		ledger = orderspostgres.NewLedger(pool)
		readiness["database"] = func(ctx context.Context) error { return database.CheckHealth(ctx, pool) }
	}
	ledger = adapters.NewObservableLedger(ledger, dbMetrics)

	var (
		carts       ports.CartStore
		idempotency ports.IdempotencyStore
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer closeQuietly(logger, "redis", rdb)

		carts = ordersredis.NewCartStore(rdb, cfg.Redis.CartTTL)
		idempotency = idemredis.NewStore(rdb, cfg.Redis.IdempotencyTTL)
		readiness["redis"] = func(ctx context.Context) error { return database.CheckHealth(ctx, redisPinger{rdb}) }
	} else {
		logger.Warn("redis not configured; carts are kept in process")
		carts = memory.NewCartStore()
		if pool != nil {
			idempotency = idempostgres.NewStore(pool, cfg.Redis.IdempotencyTTL)
		} else {
			idempotency = idemmemory.NewStore(cfg.Redis.IdempotencyTTL)
		}
	}

	var (
		events   ports.EventBus
		notifier ports.Notifier
	)
	if len(cfg.Kafka.Brokers) > 0 {
		eventBus := kafka.NewEventBus(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic), cfg.Service.Name)
		defer closeQuietly(logger, "kafka events writer", eventBus)
		alerts := kafka.NewNotifier(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic), cfg.Service.Name)
		defer closeQuietly(logger, "kafka notifications writer", alerts)

		events, notifier = eventBus, alerts
	} else {
		logger.Warn("kafka not configured; events and alerts are only logged")
		events = kafka.NewNoopEventBus(logger)
		notifier = kafka.NewLogNotifier(logger)
	}

	gateway := paystack.NewClient(paystack.Config{
		SecretKey:         cfg.Payment.SecretKey,
		BaseURL:           cfg.Payment.BaseURL,
		VerifyBaseDelay:   cfg.Payment.VerifyBaseDelay,
		VerifyMaxAttempts: cfg.Payment.VerifyMaxAttempts,
		RequestTimeout:    cfg.Payment.RequestTimeout,
	}, logger, serviceMetrics)

	service := ordersapp.NewService(ordersapp.Dependencies{
		Ledger:      ledger,
		Gateway:     gateway,
		Carts:       carts,
		Events:      adapters.NewObservableEventBus(events, kafkaMetrics),
		Notifier:    adapters.NewObservableNotifier(notifier, kafkaMetrics),
		Idempotency: idempotency,
		Logger:      logger,
		Metrics:     serviceMetrics,
		Pricing: domain.PricingPolicy{
			TaxRate:               cfg.Pricing.TaxRate,
			ShippingFee:           cfg.Pricing.ShippingFee,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		},
		CallbackURL: cfg.Payment.CallbackURL,
	})

	handler := httpadapter.NewHandler(httpadapter.HandlerConfig{
		Service:       service,
		Verifier:      httpadapter.NewSignatureVerifier(cfg.Payment.WebhookSecret),
		Logger:        logger,
		Metrics:       httpMetrics,
		ExposeDetails: cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: httpadapter.NewRouter(httpadapter.RouterConfig{
			Handler:        handler,
			Metrics:        httpMetrics,
			Readiness:      readiness,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			ServiceName:    cfg.Service.Name,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "port", cfg.HTTP.Port, "database", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}

// redisPinger adapts the go-redis command API to database.Pinger.
type redisPinger struct {
	rdb redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func closeQuietly(logger *slog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Error("close failed", "resource", name, "error", err)
	}
}
