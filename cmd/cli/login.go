package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zenlist/notifier/pkg/client"
)

var loginFlags struct {
	baseURL string
	userID  string
	token   string
	apiKey  string
}

func prompt(scanner *bufio.Scanner, label, current string) string {
	if current != "" {
		return current
	}
	fmt.Printf("%s: ", label)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the service URL and your credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		scanner := bufio.NewScanner(os.Stdin)
		baseURL := loginFlags.baseURL
		if baseURL == "" {
			baseURL = client.DefaultBaseURL
		}
		userID := loginFlags.userID
		if loginFlags.token == "" {
			userID = prompt(scanner, "User ID", userID)
		}

		opts := []client.ClientOption{client.WithBaseURL(baseURL)}
		if loginFlags.token != "" {
			opts = append(opts, client.WithToken(loginFlags.token))
		} else {
			opts = append(opts, client.WithUser(userID))
		}
		c := client.NewClient(loginFlags.apiKey, opts...)

		unread, err := c.Notifications.UnreadCount(cmd.Context())
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		viper.Set("base_url", baseURL)
		viper.Set("user_id", userID)
		viper.Set("token", loginFlags.token)
		viper.Set("api_key", loginFlags.apiKey)
		if err := viper.WriteConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write config: %v\n", err)
		}

		fmt.Println("Successfully logged in!")
		fmt.Printf("You have %d unread notifications.\n", unread)
		if k := loginFlags.apiKey; len(k) > 11 {
			fmt.Printf("Service key stored: %s...%s\n", k[:7], k[len(k)-4:])
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginFlags.baseURL, "url", "", "notification service base URL")
	loginCmd.Flags().StringVar(&loginFlags.userID, "user", "", "user id sent as X-User-ID")
	loginCmd.Flags().StringVar(&loginFlags.token, "token", "", "bearer token, replaces --user")
	loginCmd.Flags().StringVar(&loginFlags.apiKey, "api-key", "", "service key for send and admin commands")
	rootCmd.AddCommand(loginCmd)
}
