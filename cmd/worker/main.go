package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/noah-isme/lms-studio-api/internal/bootstrap"
	"github.com/noah-isme/lms-studio-api/internal/events"
	"github.com/noah-isme/lms-studio-api/internal/service"
	"github.com/noah-isme/lms-studio-api/pkg/cache"
	"github.com/noah-isme/lms-studio-api/pkg/config"
	"github.com/noah-isme/lms-studio-api/pkg/database"
	"github.com/noah-isme/lms-studio-api/pkg/logger"
)

// The worker consumes jobs from RabbitMQ. With the in-memory task backend the
// API process runs jobs itself and this binary is not needed.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Tasks.Backend != config.TasksBackendRabbitMQ {
		logr.Sugar().Fatalw("worker requires the rabbitmq task backend", "backend", cfg.Tasks.Backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	store, err := bootstrap.ObjectStore(ctx, cfg.Storage)
	if err != nil {
		logr.Sugar().Fatalw("failed to open object store", "error", err)
	}

	broker, err := bootstrap.AMQPBroker(cfg.Tasks, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect task broker", "error", err)
	}
	defer broker.Close()

	var publish service.EventPublisher
	if cfg.Events.SubscriberEnabled {
		redisClient, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect redis", "error", err)
		}
		defer redisClient.Close() //nolint:errcheck
		publish = events.NewPublisher(redisClient, cfg.Events.Channel).Publish
	}

	router := bootstrap.TaskRouter(cfg, db, store, publish, service.NewMetricsService(), logr)

	logr.Sugar().Infow("worker starting", "types", router.Types(), "env", cfg.Env)
	if err := broker.Consume(ctx, router.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logr.Sugar().Errorw("worker stopped", "error", err)
		return
	}
	logr.Info("worker stopped")
}
