package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// credentialKeys are the config entries written by login.
var credentialKeys = []string{"user_id", "token", "api_key"}

var logoutAll bool

// clearCredentials drops the stored identity, and the service URL too when all is set.
// It returns the user id that was logged in, if any.
func clearCredentials(all bool) string {
	previous := viper.GetString("user_id")
	keys := credentialKeys
	if all {
		keys = append([]string{"base_url"}, keys...)
	}
	for _, key := range keys {
		viper.Set(key, "")
	}
	return previous
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored ZenList credentials",
	Run: func(cmd *cobra.Command, args []string) {
		previous := clearCredentials(logoutAll)
		if err := viper.WriteConfig(); err != nil {
			fmt.Printf("Warning: failed to write config: %v\n", err)
		}
		if previous == "" {
			fmt.Println("No stored user; credentials cleared.")
			return
		}
		fmt.Printf("Logged out %s.\n", previous)
	},
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "also forget the service URL")
	rootCmd.AddCommand(logoutCmd)
}
