package main

import (
	"errors"
	"flag"

	"github.com/golang-migrate/migrate/v4"
	"github.com/richxcame/points-ledger/pkg/config"
	"github.com/richxcame/points-ledger/pkg/database"
	"github.com/richxcame/points-ledger/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	flag.Parse()

	cfg, err := config.Load("ledger-migrate")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := logger.Init(cfg.Server.Environment); err != nil {
		logger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	if *down <= 0 {
		if err := database.Migrate(&cfg.Database); err != nil {
			logger.Fatal("Migration failed", zap.Error(err))
		}
		return
	}

	m, err := database.NewMigrator(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to create migrator", zap.Error(err))
	}
	defer m.Close()

	if err := m.Steps(-*down); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("Rollback failed", zap.Error(err))
	}
	logger.Info("Rolled back migrations", zap.Int("steps", *down))
}
