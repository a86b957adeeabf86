package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fichador/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "fichador",
	Short: "Offline cache, push delivery and clock-in reminders for the time-tracking site",
	Long: `fichador runs as two cooperating processes sharing one SQLite file:
the worker fronts the origin and delivers pushes, the page runs the
schedule monitor and the subscription actions.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
