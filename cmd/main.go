// Command eventjoin runs the event join service and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/eventjoin/internal/config"
	"github.com/Shivanand-hulikatti/eventjoin/internal/database"
	"github.com/Shivanand-hulikatti/eventjoin/internal/logging"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository/memory"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "eventjoin <command>",
	Short:         "Event participation service with capacity-limited joins",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("EVENTJOIN_CONFIG"), "path to a TOML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "eventjoin:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command shares.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore migrates and opens the configured backend.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := database.MigratePostgres(cfg.Database.URL(), database.Up); err != nil {
			return nil, err
		}
		pool, err := database.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to postgres",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Name),
		)
		return postgres.New(pool), nil

	case config.DriverSQLite:
		if err := database.MigrateSQLite(cfg.SQLitePath, database.Up); err != nil {
			return nil, err
		}
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite database", zap.String("path", cfg.SQLitePath))
		return sqlite.New(db), nil

	case config.DriverMemory:
		logger.Warn("using in-memory store; all data is lost on exit")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
