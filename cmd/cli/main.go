package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zenlist/notifier/pkg/client"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "zenlist",
	Short:        "ZenList notifications CLI",
	Long:         `A CLI tool to inspect and send ZenList notifications and to operate the notification service.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zenlist.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".zenlist")

		// WriteConfig needs an existing file.
		configPath := filepath.Join(home, ".zenlist.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			f, err := os.OpenFile(configPath, os.O_CREATE|os.O_WRONLY, 0o600)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to create config file: %v\n", err)
			} else {
				f.Close()
			}
		}
	}

	viper.SetEnvPrefix("ZENLIST_CLI")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// newClient builds an SDK client from the stored login.
func newClient() (*client.Client, error) {
	baseURL := viper.GetString("base_url")
	if baseURL == "" {
		return nil, fmt.Errorf("not logged in, run `zenlist login` first")
	}
	opts := []client.ClientOption{client.WithBaseURL(baseURL)}
	if token := viper.GetString("token"); token != "" {
		opts = append(opts, client.WithToken(token))
	} else if userID := viper.GetString("user_id"); userID != "" {
		opts = append(opts, client.WithUser(userID))
	}
	return client.NewClient(viper.GetString("api_key"), opts...), nil
}

func main() {
	Execute()
}
