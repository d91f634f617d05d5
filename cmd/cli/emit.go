package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/pkg/messaging"
)

var emitFlags struct {
	userID  string
	email   string
	todoID  string
	title   string
	due     string
	changes []string
	topic   string
}

var todoEventKinds = map[string]string{
	"created":   "todo.created",
	"updated":   "todo.updated",
	"completed": "todo.completed",
	"deleted":   "todo.deleted",
}

// buildTodoEvent builds the todo service event for kind (created, updated, completed, deleted).
func buildTodoEvent(kind string, now time.Time) (*notification.TodoEvent, error) {
	fullKind, ok := todoEventKinds[kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q (created, updated, completed, deleted)", kind)
	}
	if emitFlags.userID == "" || emitFlags.todoID == "" {
		return nil, fmt.Errorf("--user and --todo are required")
	}
	todo := notification.TodoRef{ID: emitFlags.todoID, Title: emitFlags.title}
	if emitFlags.due != "" {
		due, err := time.Parse("2006-01-02", emitFlags.due)
		if err != nil {
			return nil, fmt.Errorf("invalid --due (want YYYY-MM-DD): %w", err)
		}
		todo.DueDate = &due
	}
	return &notification.TodoEvent{
		ID:        uuid.NewString(),
		Kind:      fullKind,
		UserID:    emitFlags.userID,
		Email:     emitFlags.email,
		Todo:      todo,
		Changes:   emitFlags.changes,
		Timestamp: now.UTC(),
	}, nil
}

var emitCmd = &cobra.Command{
	Use:   "emit <created|updated|completed|deleted>",
	Short: "Publish a todo lifecycle event to Kafka",
	Long: `Publishes a todo lifecycle event the way the todo service does, keyed by user id.
Brokers come from kafka_brokers (comma separated) in the CLI config or ZENLIST_CLI_KAFKA_BROKERS.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		event, err := buildTodoEvent(args[0], time.Now())
		if err != nil {
			return err
		}
		brokers := viper.GetString("kafka_brokers")
		if brokers == "" {
			return fmt.Errorf("kafka_brokers is not configured")
		}
		body, err := json.Marshal(event)
		if err != nil {
			return err
		}

		producer := messaging.NewKafkaProducer(strings.Split(brokers, ","), emitFlags.topic)
		defer producer.Close()
		if err := producer.Publish(cmd.Context(), event.UserID, body); err != nil {
			return err
		}
		fmt.Printf("Published %s for todo %s (event %s).\n", event.Kind, event.Todo.ID, event.ID)
		return nil
	},
}

func init() {
	f := emitCmd.Flags()
	f.StringVar(&emitFlags.userID, "user", "", "owner user id")
	f.StringVar(&emitFlags.email, "email", "", "owner email address (optional)")
	f.StringVar(&emitFlags.todoID, "todo", "", "todo id")
	f.StringVar(&emitFlags.title, "title", "", "todo title")
	f.StringVar(&emitFlags.due, "due", "", "due date, YYYY-MM-DD")
	f.StringSliceVar(&emitFlags.changes, "changes", nil, "changed fields for updated events")
	f.StringVar(&emitFlags.topic, "topic", notification.TodoEventsTopic, "Kafka topic")
	rootCmd.AddCommand(emitCmd)
}
