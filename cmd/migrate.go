package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/eventjoin/internal/config"
	"github.com/Shivanand-hulikatti/eventjoin/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(database.Up), string(database.Down)},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		dir := database.Direction(args[0])
		switch cfg.StoreDriver {
		case config.DriverPostgres:
			err = database.MigratePostgres(cfg.Database.URL(), dir)
		case config.DriverSQLite:
			err = database.MigrateSQLite(cfg.SQLitePath, dir)
		default:
			return fmt.Errorf("store driver %q has no schema", cfg.StoreDriver)
		}
		if err != nil {
			return err
		}
		logger.Info("migrations applied", zap.String("driver", cfg.StoreDriver), zap.String("direction", string(dir)))
		return nil
	},
}
