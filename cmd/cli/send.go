package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/pkg/messaging"
)

var sendFlags struct {
	userID  string
	email   string
	title   string
	message string
	url     string
	related string
	queue   bool
}

// buildTask turns the send flags into a custom-notification dispatch task.
func buildTask() (*notification.DispatchTask, error) {
	if sendFlags.userID == "" || sendFlags.message == "" {
		return nil, fmt.Errorf("--user and --message are required")
	}
	custom := notification.Custom{
		Title:   sendFlags.title,
		Message: sendFlags.message,
		URL:     sendFlags.url,
	}
	if sendFlags.related != "" {
		related := sendFlags.related
		custom.RelatedItem = &related
	}
	data, err := json.Marshal(custom)
	if err != nil {
		return nil, err
	}
	return &notification.DispatchTask{
		ID:             uuid.NewString(),
		UserID:         sendFlags.userID,
		RecipientEmail: sendFlags.email,
		Type:           notification.TypeCustom,
		Data:           data,
	}, nil
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a custom notification to a user",
	Long: `Send a custom notification through the internal dispatch endpoint (needs a service key)
or, with --queue, by publishing it to the RabbitMQ dispatch queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := buildTask()
		if err != nil {
			return err
		}

		if sendFlags.queue {
			url := viper.GetString("rabbitmq_url")
			if url == "" {
				return fmt.Errorf("rabbitmq_url is not configured")
			}
			cfg := messaging.DefaultConfig()
			cfg.URL = url
			cfg.MaxRetries = 1
			rabbit, err := messaging.NewRabbitMQClient(cfg)
			if err != nil {
				return fmt.Errorf("connect to RabbitMQ: %w", err)
			}
			defer rabbit.Close()
			body, err := json.Marshal(task)
			if err != nil {
				return err
			}
			if err := rabbit.Publish(cmd.Context(), notification.DispatchQueue, body); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Printf("Queued notification %s for %s.\n", task.ID, task.UserID)
			return nil
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Internal.Dispatch(cmd.Context(), task); err != nil {
			return err
		}
		fmt.Printf("Dispatched notification for %s.\n", task.UserID)
		return nil
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVar(&sendFlags.userID, "user", "", "recipient user id")
	f.StringVar(&sendFlags.email, "email", "", "recipient email address (optional)")
	f.StringVar(&sendFlags.title, "title", "", "notification title")
	f.StringVar(&sendFlags.message, "message", "", "notification text")
	f.StringVar(&sendFlags.url, "url", "", "link opened from push and email")
	f.StringVar(&sendFlags.related, "related", "", "related item id, makes the notification dedup per item")
	f.BoolVar(&sendFlags.queue, "queue", false, "publish to RabbitMQ instead of calling the HTTP API")
	rootCmd.AddCommand(sendCmd)
}
