package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/richxcame/points-ledger/internal/coupons"
	"github.com/richxcame/points-ledger/internal/fraud"
	"github.com/richxcame/points-ledger/internal/jobs"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/internal/nonce"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/database"
	"github.com/richxcame/points-ledger/pkg/eventbus"
	"github.com/richxcame/points-ledger/pkg/logger"
	"github.com/richxcame/points-ledger/pkg/redis"
	"go.uber.org/zap"
)

const (
	serviceName    = "ledger-worker"
	fraudDurable   = "ledger-fraud-engine"
	jobsLockPrefix = "ledger:jobs:lock:"
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	if err := logger.Init(cfg.Server.Environment); err != nil {
		logger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	db, err := database.NewPostgresPool(context.Background(), &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher eventbus.Publisher
	var bus *eventbus.Bus
	if cfg.NATS.Enabled {
		bus, err = eventbus.New(eventbus.Config{URL: cfg.NATS.URL, StreamName: cfg.NATS.Stream, ClientName: serviceName})
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer bus.Close()
		publisher = bus
	}

	ledgerRepo := ledger.NewRepository(db, cfg.Ledger.LockTimeout)
	fraudEngine := fraud.NewEngine(fraud.NewRepository(db), cfg.Fraud, cfg.RateLimit)
	couponService := coupons.NewService(
		coupons.NewRepository(db, cfg.Ledger.LockTimeout),
		coupons.NewTemplateCache(redisClient, cfg.Coupons.TemplateCacheTTL),
		publisher,
		cfg.Coupons,
	)

	if bus != nil {
		if err := bus.Subscribe(ctx, eventbus.SubjectEventAppended, fraudDurable, fraudEngine.HandleEventAppended); err != nil {
			logger.Fatal("Failed to subscribe fraud engine", zap.Error(err))
		}
		logger.Info("Fraud engine subscribed", zap.String("subject", eventbus.SubjectEventAppended))
	} else {
		logger.Warn("NATS disabled, fraud engine runs on the periodic sweep only")
	}

	scheduler, err := jobs.NewScheduler(
		jobs.NewRedisLocker(redis.NewLocker(redisClient.Client, jobsLockPrefix, cfg.Jobs.LockTTL)),
		jobs.Definitions(cfg.Jobs, jobs.Deps{
			Nonces:  nonce.NewRepository(db),
			Ledger:  ledger.NewService(ledgerRepo),
			Fraud:   fraudEngine,
			Coupons: couponService,
		})...,
	)
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}
	scheduler.Start()
	logger.Info("Ledger worker started")

	<-ctx.Done()

	logger.Info("Shutting down worker...")
	if err := scheduler.Shutdown(); err != nil {
		logger.Error("Scheduler shutdown failed", zap.Error(err))
	}
	logger.Info("Worker exited")
}
