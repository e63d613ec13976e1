package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resetGuildID string

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Manage moderation case numbering",
}

var casesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restart a guild's case numbering at 1",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if resetGuildID == "" {
			return errors.New("--guild is required")
		}
		_, logger, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.ResetCases(ctx, resetGuildID); err != nil {
			return fmt.Errorf("reset cases: %w", err)
		}
		logger.Info("case numbering reset", zap.String("guild_id", resetGuildID))
		fmt.Fprintf(cmd.OutOrStdout(), "Case numbering for guild %s restarts at 1.\n", resetGuildID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(casesCmd)
	casesCmd.AddCommand(casesResetCmd)
	casesResetCmd.Flags().StringVar(&resetGuildID, "guild", "", "guild id")
}
