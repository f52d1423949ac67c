package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/notification-pipeline/internal/config"
	"github.com/kursadbilgin/notification-pipeline/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-pipeline/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-pipeline/internal/infra/redis"
	"github.com/kursadbilgin/notification-pipeline/internal/observability"
	"github.com/kursadbilgin/notification-pipeline/internal/provider"
	"github.com/kursadbilgin/notification-pipeline/internal/queue"
	"github.com/kursadbilgin/notification-pipeline/internal/repository"
	"github.com/kursadbilgin/notification-pipeline/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger("worker", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	notificationRepo := repository.NewGormNotificationRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	registry, err := provider.BuildRegistry(ctx, provider.Config{
		TextbeeAPIKey:             cfg.TextbeeAPIKey,
		TextbeeDeviceID:           cfg.TextbeeDeviceID,
		TwilioAccountSID:          cfg.TwilioAccountSID,
		TwilioAuthToken:           cfg.TwilioAuthToken,
		TwilioMessagingServiceSID: cfg.TwilioMessagingServiceSID,
		TwilioFromNumber:          cfg.TwilioFromNumber,
		AWSRegion:                 cfg.AWSRegion,
		EmailSender:               cfg.EmailSender,
		SNSSenderID:               cfg.SNSSenderID,
		SNSSMSType:                cfg.SNSSMSType,
	}, logger)
	if err != nil {
		logger.Fatal("provider registry initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	worker, err := service.NewWorkerService(
		notificationRepo,
		attemptRepo,
		consumer,
		registry,
		rateLimiter,
		cfg.WorkerConcurrency,
		cfg.SendTimeout,
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	scanner, err := service.NewDispatchScanner(
		notificationRepo,
		publisher,
		cfg.ScanInterval,
		cfg.ScanLimit,
		cfg.StalePendingAfter,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatch scanner initialization failed", zap.Error(err))
	}
	scanner.SetMetrics(metrics)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return scanner.Start(groupCtx)
	})

	logger.Info("worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}

	logger.Info("worker stopped")
}
