package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fichador/internal/database"
	"github.com/dukerupert/fichador/internal/push"
	"github.com/dukerupert/fichador/internal/store"
	"github.com/dukerupert/fichador/internal/subscription"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Send an encrypted push to the local worker endpoint",
	Long: `selftest signs and encrypts a push with the configured VAPID keys and
delivers it to the platform endpoint of the current subscription, which is
served by the running worker. No remote registry is involved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
			return errors.New("FICHADOR_VAPID_PUBLIC_KEY and FICHADOR_VAPID_PRIVATE_KEY are required")
		}

		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pm := subscription.NewStoredPushManager(store.NewKVStore(db), cfg.PushEndpointBase)
		sub, err := pm.GetSubscription(ctx)
		if err != nil {
			return err
		}
		if sub == nil {
			return errors.New("no subscription: run fichador enable first")
		}

		subject := cfg.VAPIDSubject
		if subject == "" {
			subject = "mailto:selftest@localhost"
		}
		sender := push.NewSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, subject, nil)
		err = sender.Send(ctx, sub, push.Payload{
			Title: "fichador",
			Body:  "Push self-test",
			Data:  push.PayloadData{URL: "/dashboard", Nid: fmt.Sprintf("selftest-%d", time.Now().Unix())},
		})
		if err != nil {
			return fmt.Errorf("send push: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "push delivered to %s\n", sub.Endpoint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}
