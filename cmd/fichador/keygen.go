package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/fichador/internal/push"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a VAPID key pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "FICHADOR_VAPID_PUBLIC_KEY=%s\n", pub)
		fmt.Fprintf(out, "FICHADOR_VAPID_PRIVATE_KEY=%s\n", priv)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
