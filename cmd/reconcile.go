package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute every event's accepted count from the join request ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		store, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		fixed, err := store.ReconcileAcceptedCounts(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("accepted counts reconciled", zap.Int("events_fixed", fixed))
		fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) corrected\n", fixed)
		return nil
	},
}
