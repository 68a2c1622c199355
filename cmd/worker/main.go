package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dkovalenko/crpt-relay/internal/config"
	"github.com/dkovalenko/crpt-relay/internal/crpt"
	"github.com/dkovalenko/crpt-relay/internal/infra/postgresql"
	"github.com/dkovalenko/crpt-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/dkovalenko/crpt-relay/internal/infra/redis"
	"github.com/dkovalenko/crpt-relay/internal/observability"
	"github.com/dkovalenko/crpt-relay/internal/queue"
	"github.com/dkovalenko/crpt-relay/internal/ratelimit"
	"github.com/dkovalenko/crpt-relay/internal/registry"
	"github.com/dkovalenko/crpt-relay/internal/repository"
	"github.com/dkovalenko/crpt-relay/internal/service"
)

const (
	retryScanInterval = 5 * time.Second
	retryScanLimit    = 100
	metricsPort       = 9091
)

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

	window, err := cfg.Window()
	if err != nil {
		logger.Fatal("invalid rate window", zap.Error(err))
	}

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

	metrics := observability.NewMetrics()

	clientOpts := []crpt.Option{crpt.WithLogger(logger), crpt.WithMetrics(metrics)}
	if cfg.RegistryBaseURL != "" {
		endpoints, err := registry.NewEndpoints(cfg.RegistryBaseURL)
		if err != nil {
			logger.Fatal("invalid registry base url", zap.Error(err))
		}
		clientOpts = append(clientOpts, crpt.WithEndpoints(endpoints))
	}

	var localGateStats service.GateStats
	if cfg.GateMode == config.GateModeRedis {
		rdb, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		gate, err := infraredis.NewRedisGate(rdb, window, cfg.RequestLimit)
		if err != nil {
			logger.Fatal("redis gate init failed", zap.Error(err))
		}
		clientOpts = append(clientOpts, crpt.WithGate(gate))
	} else {
		gate, err := ratelimit.NewFixedWindowGate(window, cfg.RequestLimit, logger)
		if err != nil {
			logger.Fatal("admission gate init failed", zap.Error(err))
		}
		defer gate.Stop()
		clientOpts = append(clientOpts, crpt.WithGate(gate))
		localGateStats = gate
	}

	client, err := crpt.NewClient(window, cfg.RequestLimit, clientOpts...)
	if err != nil {
		logger.Fatal("registry client init failed", zap.Error(err))
	}
	defer client.Close()

	submissionRepo := repository.NewGormSubmissionRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	worker, err := service.NewWorkerService(
		submissionRepo,
		attemptRepo,
		consumer,
		client,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("worker service init failed", zap.Error(err))
	}

	worker.SetMetrics(metrics)
	if localGateStats != nil {
		worker.SetGateStats(localGateStats)
	}

	scanner, err := service.NewRetryScanner(submissionRepo, publisher, retryScanInterval, retryScanLimit, logger)
	if err != nil {
		logger.Fatal("retry scanner init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: metrics.Handler(),
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return scanner.Start(groupCtx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info("crpt-relay worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("requestLimit", cfg.RequestLimit),
		zap.Duration("window", window),
		zap.String("gateMode", cfg.GateMode),
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}

	logger.Info("crpt-relay worker stopped")
}
