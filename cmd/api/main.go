package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dkovalenko/crpt-relay/internal/config"
	"github.com/dkovalenko/crpt-relay/internal/handler"
	"github.com/dkovalenko/crpt-relay/internal/infra/postgresql"
	"github.com/dkovalenko/crpt-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/dkovalenko/crpt-relay/internal/infra/redis"
	"github.com/dkovalenko/crpt-relay/internal/observability"
	"github.com/dkovalenko/crpt-relay/internal/queue"
	"github.com/dkovalenko/crpt-relay/internal/repository"
	"github.com/dkovalenko/crpt-relay/internal/service"
	"github.com/dkovalenko/crpt-relay/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	// The API only publishes; redis is wired solely for the readiness probe
	// when the shared gate is configured.
	rdb, err := redisClientIfConfigured(cfg)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	submissionRepo := repository.NewGormSubmissionRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	publisher := queue.NewRabbitMQPublisher(rabbit)

	submissionService, err := service.NewSubmissionService(submissionRepo, attemptRepo, publisher, logger)
	if err != nil {
		logger.Fatal("submission service init failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterSubmissionRoutes(app, submissionService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("fiber shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("crpt-relay api started", zap.Int("port", cfg.APIPort))
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Fatal("fiber server stopped", zap.Error(err))
	}

	logger.Info("crpt-relay api stopped")
}

func redisClientIfConfigured(cfg *config.Config) (*goredis.Client, error) {
	if cfg.GateMode != config.GateModeRedis {
		return nil, nil
	}
	return infraredis.NewRedis(cfg.RedisURL)
}
