package main

import (
	"os"

	"github.com/Nystya/optimistic-commit/config"
	"github.com/Nystya/optimistic-commit/controller"
	"github.com/Nystya/optimistic-commit/repository/database"
	"github.com/Nystya/optimistic-commit/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("initializing wal directory", zap.String("dir", cfg.WalDir))

	if err := os.MkdirAll(cfg.WalDir, 0755); err != nil {
		logger.Fatal("could not create wal directory", zap.Error(err))
	}

	logger.Info("initializing transaction authority")

	manager := service.NewInMemoryTransactionManager().WithLogger(logger)
	client := service.NewInMemoryTxSystemClient(manager).WithDefaultTimeout(cfg.TxTimeout)

	factory := func(name string, walPrefix string) (*database.TxKVStore, error) {
		wal, err := database.NewWriteAheadLog(&database.WriteAheadLogConfig{
			Dir:         cfg.WalDir,
			MaxFileSize: cfg.WalMaxFileSize,
			Prefix:      walPrefix,
		})
		if err != nil {
			return nil, err
		}

		return database.NewTxKVStore(name, wal, logger), nil
	}

	logger.Info("running scenarios")

	runner := controller.NewScenarioRunner(client, factory, cfg.Stores, logger)
	if err := runner.Run(); err != nil {
		logger.Fatal("scenarios failed", zap.Error(err))
	}

	logger.Info("all scenarios completed")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	return cfg.Build()
}
