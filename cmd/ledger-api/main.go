package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/points-ledger/internal/attestation"
	"github.com/richxcame/points-ledger/internal/coupons"
	"github.com/richxcame/points-ledger/internal/fraud"
	"github.com/richxcame/points-ledger/internal/intake"
	"github.com/richxcame/points-ledger/internal/ledger"
	"github.com/richxcame/points-ledger/internal/ratelimit"
	"github.com/richxcame/points-ledger/internal/review"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/database"
	"github.com/richxcame/points-ledger/pkg/eventbus"
	"github.com/richxcame/points-ledger/pkg/health"
	"github.com/richxcame/points-ledger/pkg/logger"
	"github.com/richxcame/points-ledger/pkg/redis"
	"go.uber.org/zap"
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

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(&cfg.Database); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	db, err := database.NewPostgresPool(context.Background(), &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	logger.Info("Connected to PostgreSQL database")

	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	var publisher eventbus.Publisher
	if cfg.NATS.Enabled {
		bus, err := eventbus.New(eventbus.Config{URL: cfg.NATS.URL, StreamName: cfg.NATS.Stream, ClientName: serviceName})
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer bus.Close()
		publisher = bus
		logger.Info("Connected to NATS", zap.String("stream", cfg.NATS.Stream))
	}

	ledgerRepo := ledger.NewRepository(db, cfg.Ledger.LockTimeout)
	ledgerService := ledger.NewService(ledgerRepo)

	intakeService := intake.NewService(
		ledgerRepo,
		attestation.NewHTTPVerifier(cfg.Attestation),
		publisher,
		cfg.Ledger,
		cfg.Trust,
		ratelimit.NewLimiter(cfg.RateLimit),
	)

	couponService := coupons.NewService(
		coupons.NewRepository(db, cfg.Ledger.LockTimeout),
		coupons.NewTemplateCache(redisClient, cfg.Coupons.TemplateCacheTTL),
		publisher,
		cfg.Coupons,
	)

	reviewService := review.NewService(ledgerRepo, publisher)
	fraudEngine := fraud.NewEngine(fraud.NewRepository(db), cfg.Fraud, cfg.RateLimit)

	router := setupRouter(routes{
		jwtSecret:   cfg.JWT.Secret,
		corsOrigins: cfg.Server.CORSOrigins,
		readiness: map[string]health.Checker{
			"postgres": health.DatabaseChecker(db),
			"redis":    health.RedisChecker(redisClient.PingContext),
		},
		intake:  intake.NewHandler(intakeService),
		ledger:  ledger.NewHandler(ledgerService),
		coupons: coupons.NewHandler(couponService),
		review:  review.NewHandler(reviewService),
		fraud:   fraud.NewHandler(fraudEngine),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Ledger API starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}
