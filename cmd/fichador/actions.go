package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fichador/internal/database"
	"github.com/dukerupert/fichador/internal/logging"
	"github.com/dukerupert/fichador/internal/page"
)

func actionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, "page")

			db, err := database.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			ctrl, err := newController(cfg, db, nil, logger)
			if err != nil {
				return err
			}
			if err := ctrl.Action(context.Background(), action); err != nil {
				return fmt.Errorf("%s: %w", action, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", action)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(
		actionCmd(page.ActionEnable, "Subscribe to push notifications"),
		actionCmd(page.ActionDisable, "Remove the push subscription"),
		actionCmd(page.ActionTest, "Ask the server to send a test push"),
	)
}
