package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fichador/internal/config"
	"github.com/dukerupert/fichador/internal/database"
	"github.com/dukerupert/fichador/internal/feed"
	"github.com/dukerupert/fichador/internal/logging"
	"github.com/dukerupert/fichador/internal/page"
	"github.com/dukerupert/fichador/internal/reminder"
	"github.com/dukerupert/fichador/internal/store"
	"github.com/dukerupert/fichador/internal/subscription"
	ws "github.com/dukerupert/fichador/internal/websocket"
)

var pageCmd = &cobra.Command{
	Use:   "page",
	Short: "Run the foreground page: schedule monitor and subscription sync",
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var channel page.Channel
		peer, err := ws.Dial(ctx, cfg.WorkerURL, cfg.Origin+"/dashboard")
		if err != nil {
			logger.Warn("worker channel unavailable, local notifications disabled", "error", err)
		} else {
			defer peer.Close()
			channel = peer
		}

		ctrl, err := newController(cfg, db, channel, logger)
		if err != nil {
			return err
		}
		return ctrl.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(pageCmd)
}

func prompter(cfg *config.Config) subscription.Prompter {
	switch cfg.NotificationPermission {
	case config.PermissionGranted:
		return subscription.FixedPrompter(subscription.PermissionGranted)
	case config.PermissionDenied:
		return subscription.FixedPrompter(subscription.PermissionDenied)
	default:
		return subscription.NewTerminalPrompter(os.Stdin, os.Stderr)
	}
}

func newManager(cfg *config.Config, kv *store.KVStore, perms *subscription.Permissions, logger *slog.Logger) *subscription.Manager {
	return subscription.NewManager(
		subscription.NewHealthRegistration(cfg.WorkerURL),
		subscription.NewStoredPushManager(kv, cfg.PushEndpointBase),
		perms,
		subscription.NewRegistry(cfg.Origin, cfg.SessionCookie),
		cfg.VAPIDPublicKey,
		logger.With("component", "subscription"),
	)
}

func newController(cfg *config.Config, db *sql.DB, channel page.Channel, logger *slog.Logger) (*page.Controller, error) {
	if _, err := cfg.OriginURL(); err != nil {
		return nil, err
	}
	kv := store.NewKVStore(db)
	perms := subscription.NewPermissions(kv, prompter(cfg))

	return page.New(page.Config{
		Registration:  subscription.NewHealthRegistration(cfg.WorkerURL),
		Permissions:   perms,
		Subscriptions: newManager(cfg, kv, perms, logger),
		Feed:          feed.NewClient(cfg.Origin, cfg.SessionCookie),
		Ledger:        reminder.NewLedger(kv),
		Channel:       channel,
		RefreshSpec:   cfg.FeedRefresh,
		Logger:        logger.With("component", "page"),
	}), nil
}
