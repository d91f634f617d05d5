package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zenlist/notifier/internal/webpush"
	"github.com/zenlist/notifier/pkg/apikey"
)

var vapidCmd = &cobra.Command{
	Use:   "vapid",
	Short: "Manage Web Push VAPID keys",
}

var vapidGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a VAPID key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		public, private, err := webpush.GenerateKeys()
		if err != nil {
			return err
		}
		fmt.Printf("ZENLIST_PUSH_VAPID_PUBLIC_KEY=%s\n", public)
		fmt.Printf("ZENLIST_PUSH_VAPID_PRIVATE_KEY=%s\n", private)
		return nil
	},
}

var keySecret string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage service keys for the internal endpoints",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a service key and the hash to configure",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keySecret == "" {
			return fmt.Errorf("--secret is required (auth.service_key_secret of the service)")
		}
		key, hash, err := apikey.GenerateKey(apikey.ServicePrefix, keySecret)
		if err != nil {
			return err
		}
		fmt.Printf("Key:  %s\n", key)
		fmt.Printf("Hash: %s\n", hash)
		fmt.Println("\nAdd the hash to auth.service_key_hashes and hand the key to the caller.")
		return nil
	},
}

func init() {
	keysGenerateCmd.Flags().StringVar(&keySecret, "secret", "", "HMAC secret the service verifies keys with")
	vapidCmd.AddCommand(vapidGenerateCmd)
	keysCmd.AddCommand(keysGenerateCmd)
	rootCmd.AddCommand(vapidCmd, keysCmd)
}
