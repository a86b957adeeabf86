package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fichador/internal/cache"
	"github.com/dukerupert/fichador/internal/config"
	"github.com/dukerupert/fichador/internal/database"
	"github.com/dukerupert/fichador/internal/intercept"
	"github.com/dukerupert/fichador/internal/logging"
	"github.com/dukerupert/fichador/internal/middleware"
	"github.com/dukerupert/fichador/internal/server"
	"github.com/dukerupert/fichador/internal/store"
	"github.com/dukerupert/fichador/internal/subscription"
	ws "github.com/dukerupert/fichador/internal/websocket"
	"github.com/dukerupert/fichador/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background worker in front of the origin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runWorker(cfg)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cfg *config.Config) error {
	logger := logging.Setup(cfg.LogLevel, "worker")

	origin, err := cfg.OriginURL()
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	c := cache.New(store.NewCacheStore(db), cache.Name(cfg.CacheVersion), logger.With("component", "cache"))
	hub := ws.NewHub(origin, ws.CommandOpener(cfg.OpenCommand), logger.With("component", "hub"))
	w := worker.New(worker.Config{
		Origin: origin,
		Cache:  c,
		Engine: intercept.New(origin, c, nil, logger.With("component", "intercept")),
		Hub:    hub,
		Logger: logger.With("component", "worker"),
	})
	defer w.Close()

	srv := server.New(server.Config{
		Origin:      origin,
		Worker:      w,
		Hub:         hub,
		Receivers:   subscription.NewStoredPushManager(store.NewKVStore(db), cfg.PushEndpointBase),
		RateLimiter: middleware.NewRateLimiter(60, time.Minute),
		TrustProxy:  cfg.TrustProxy,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.RateLimiter().Run(ctx)

	go func() {
		slog.Info("worker starting", "addr", cfg.Listen, "origin", origin.String(), "cache", c.Current())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Install then activate, like a freshly registered worker.
	go func() {
		if err := w.Install(ctx).Wait(); err != nil {
			slog.Error("install failed", "error", err)
			return
		}
		if err := w.Activate(ctx).Wait(); err != nil {
			slog.Error("activate failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
